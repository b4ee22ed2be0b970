// Package wsbridge carries the rdpdr static virtual channel over a websocket
// to a gateway that owns the RDP connection. Each binary message is one
// channel chunk: a CHANNEL_PDU_HEADER followed by the chunk data.
//
// A reader goroutine queues incoming messages and wakes the reactor; the
// chunks are reassembled and handed to the engine from the reactor
// goroutine, in CheckDescriptors.
package wsbridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/gorilla/websocket"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/channel"
	"github.com/rcarmo/go-rdpdr/internal/rdpdr"
	"github.com/rcarmo/go-rdpdr/internal/reactor"
)

const (
	webSocketReadBufferSize  = 8192
	webSocketWriteBufferSize = 8192 * 2
)

// ErrClosed is returned once the gateway connection is gone.
var ErrClosed = errors.New("gateway connection closed")

// Options configures the bridge.
type Options struct {
	URL              string
	Header           http.Header
	ChunkSize        int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

// Handler consumes reassembled channel PDUs.
type Handler interface {
	HandlePDU(data []byte) error
}

// Bridge is an rdpdr.Transport and a reactor.Source.
type Bridge struct {
	conn *websocket.Conn
	opts Options

	handler Handler
	waker   *reactor.Waker
	defrag  channel.Defragmenter

	mu      sync.Mutex
	inbox   [][]byte
	readErr error
	done    chan struct{}

	writeMu sync.Mutex
}

var _ rdpdr.Transport = (*Bridge)(nil)
var _ reactor.Source = (*Bridge)(nil)

// Dial connects to the gateway.
func Dial(ctx context.Context, opts Options) (*Bridge, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		ReadBufferSize:   webSocketReadBufferSize,
		WriteBufferSize:  webSocketWriteBufferSize,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, opts.URL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: %s", opts.URL, resp.Status)
		}
		return nil, errors.Wrapf(err, "dial %s", opts.URL)
	}
	logging.Info("Bridge: Connected to %s", opts.URL)
	return New(conn, opts), nil
}

// New wraps an established connection.
func New(conn *websocket.Conn, opts Options) *Bridge {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = channel.DefaultChunkSize
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &Bridge{conn: conn, opts: opts, done: make(chan struct{})}
}

// Start begins reading. PDUs are delivered to handler; waker, if set, is
// woken whenever a message is queued.
func (b *Bridge) Start(handler Handler, waker *reactor.Waker) {
	b.handler = handler
	b.waker = waker
	go b.readLoop()
}

func (b *Bridge) readLoop() {
	defer close(b.done)
	for {
		mt, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info("Bridge: Gateway closed the connection")
			} else {
				logging.Warn("Bridge: Read: %v", err)
			}
			b.mu.Lock()
			b.readErr = errors.Wrap(ErrClosed, err.Error())
			b.mu.Unlock()
			b.wake()
			return
		}
		if mt != websocket.BinaryMessage {
			logging.Debug("Bridge: Ignoring message type %d", mt)
			continue
		}
		b.mu.Lock()
		b.inbox = append(b.inbox, data)
		b.mu.Unlock()
		b.wake()
	}
}

func (b *Bridge) wake() {
	if b.waker != nil {
		b.waker.Wake()
	}
}

// Send splits pdu into channel chunks and writes one message per chunk.
func (b *Bridge) Send(pdu []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	for _, chunk := range channel.Split(pdu, b.opts.ChunkSize) {
		if b.opts.WriteTimeout > 0 {
			_ = b.conn.SetWriteDeadline(time.Now().Add(b.opts.WriteTimeout))
		}
		if err := b.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			if err == websocket.ErrCloseSent {
				return ErrClosed
			}
			return errors.Wrap(err, "write channel chunk")
		}
	}
	return nil
}

// WaitDescriptors asks for an immediate pass while messages are queued. The
// bridge has no descriptor of its own; the reader wakes the loop.
func (b *Bridge) WaitDescriptors(_, _ reactor.FDSet) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inbox) > 0 || b.readErr != nil {
		return 0, true
	}
	return 0, false
}

// CheckDescriptors reassembles queued chunks and hands complete PDUs to the
// handler. Fatal handler errors and a lost connection end the loop.
func (b *Bridge) CheckDescriptors(_, _ reactor.FDSet, _ bool) error {
	b.mu.Lock()
	inbox := b.inbox
	b.inbox = nil
	readErr := b.readErr
	b.mu.Unlock()

	for _, msg := range inbox {
		chunk, err := channel.ParseChunk(msg)
		if err != nil {
			logging.Warn("Bridge: Dropping chunk: %v", err)
			b.defrag.Reset()
			continue
		}
		pdu, ok := b.defrag.Process(chunk)
		if !ok {
			continue
		}
		if err := b.handler.HandlePDU(pdu); err != nil {
			if rdpdr.IsFatal(err) {
				return err
			}
			logging.Warn("Bridge: %v", err)
		}
	}
	return readErr
}

// Close sends a close frame, closes the connection and waits for the reader.
func (b *Bridge) Close() error {
	b.writeMu.Lock()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	b.writeMu.Unlock()

	err := b.conn.Close()
	if b.handler != nil {
		<-b.done
	}
	return err
}
