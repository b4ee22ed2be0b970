package wsbridge

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/gorilla/websocket"
	"github.com/rcarmo/go-rdpdr/internal/protocol/channel"
	"github.com/rcarmo/go-rdpdr/internal/rdpdr"
	"github.com/rcarmo/go-rdpdr/internal/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	pdus [][]byte
	err  error
}

func (r *recorder) HandlePDU(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pdus = append(r.pdus, data)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pdus)
}

// gateway accepts one websocket and hands the server side to the test.
func gateway(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func dial(t *testing.T, opts Options) (*Bridge, *websocket.Conn) {
	t.Helper()
	url, conns := gateway(t)
	opts.URL = url
	b, err := Dial(context.Background(), opts)
	require.NoError(t, err)

	var server *websocket.Conn
	select {
	case server = <-conns:
	case <-time.After(time.Second):
		t.Fatal("gateway did not accept")
	}
	t.Cleanup(func() { _ = server.Close() })
	return b, server
}

// pump runs the bridge the way the reactor would until cond holds.
func pump(t *testing.T, b *Bridge, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if _, ready := b.WaitDescriptors(nil, nil); ready {
			assert.NoError(t, b.CheckDescriptors(nil, nil, false))
		}
		return cond()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSend_SplitsIntoChunks(t *testing.T) {
	b, server := dial(t, Options{ChunkSize: 1600, WriteTimeout: time.Second})
	defer b.Close()

	pdu := bytes.Repeat([]byte{0xAB}, 4000)
	require.NoError(t, b.Send(pdu))

	var flags []uint32
	var defrag channel.Defragmenter
	var got []byte
	for i := 0; i < 3; i++ {
		mt, msg, err := server.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, mt)
		chunk, err := channel.ParseChunk(msg)
		require.NoError(t, err)
		assert.Equal(t, uint32(4000), chunk.Header.Length)
		flags = append(flags, chunk.Header.Flags)
		if out, ok := defrag.Process(chunk); ok {
			got = out
		}
	}
	assert.Equal(t, []uint32{channel.FlagFirst, 0, channel.FlagLast}, flags)
	assert.Equal(t, pdu, got)
}

func TestReceive_Reassembles(t *testing.T) {
	b, server := dial(t, Options{})
	defer b.Close()

	waker, err := reactor.NewWaker()
	require.NoError(t, err)
	defer waker.Close()

	rec := &recorder{}
	b.Start(rec, waker)

	_, ready := b.WaitDescriptors(nil, nil)
	assert.False(t, ready)

	pdu := bytes.Repeat([]byte{0x44, 0x72}, 1000)
	for _, chunk := range channel.Split(pdu, 700) {
		require.NoError(t, server.WriteMessage(websocket.BinaryMessage, chunk))
	}
	// Text frames are not channel data.
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("hello")))
	// Nor is anything shorter than a header.
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, []byte{1, 2}))

	pump(t, b, func() bool { return rec.count() == 1 })
	assert.Equal(t, pdu, rec.pdus[0])
}

func TestReceive_FatalErrorEndsLoop(t *testing.T) {
	b, server := dial(t, Options{})
	defer b.Close()

	rec := &recorder{err: errors.Wrap(rdpdr.ErrMalformed, "bad header")}
	b.Start(rec, nil)

	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, channel.Split([]byte{1, 2, 3, 4}, 0)[0]))
	pump(t, b, func() bool { return rec.count() == 1 })

	rec.mu.Lock()
	rec.err = rdpdr.ErrUnknownDevice
	rec.mu.Unlock()
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, channel.Split([]byte{5, 6, 7, 8}, 0)[0]))

	var err error
	require.Eventually(t, func() bool {
		if _, ready := b.WaitDescriptors(nil, nil); ready {
			err = b.CheckDescriptors(nil, nil, false)
		}
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, rdpdr.IsFatal(err))
}

func TestReceive_GatewayClose(t *testing.T) {
	b, server := dial(t, Options{})
	defer b.Close()
	b.Start(&recorder{}, nil)

	require.NoError(t, server.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second)))

	var err error
	require.Eventually(t, func() bool {
		if _, ready := b.WaitDescriptors(nil, nil); ready {
			err = b.CheckDescriptors(nil, nil, false)
		}
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDial_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Dial(context.Background(), Options{
		URL:              "ws" + strings.TrimPrefix(srv.URL, "http"),
		HandshakeTimeout: time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
