// Package channel implements static virtual channel chunking (MS-RDPBCGR 2.2.6.1).
// A channel PDU larger than the negotiated chunk size travels as a series of
// chunks, each prefixed with a CHANNEL_PDU_HEADER.
package channel

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/efficientgo/core/errors"
)

// Channel PDU flags (MS-RDPBCGR 2.2.6.1.1)
const (
	FlagFirst         uint32 = 0x00000001
	FlagLast          uint32 = 0x00000002
	FlagShowProtocol  uint32 = 0x00000010
	FlagSuspend       uint32 = 0x00000020
	FlagResume        uint32 = 0x00000040
	FlagPacketFlushed uint32 = 0x00080000
	FlagPacketAt      uint32 = 0x00100000
	FlagCompress      uint32 = 0x00200000
)

// DefaultChunkSize is CHANNEL_CHUNK_LENGTH
const DefaultChunkSize = 1600

// HeaderSize is the size of CHANNEL_PDU_HEADER
const HeaderSize = 8

// ErrCompressed is returned for chunks carrying bulk-compressed data.
var ErrCompressed = errors.New("compressed channel data not supported")

// PDUHeader is CHANNEL_PDU_HEADER
type PDUHeader struct {
	Length uint32 // Total length of the uncompressed PDU
	Flags  uint32
}

func (h *PDUHeader) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
	return buf
}

func (h *PDUHeader) Deserialize(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &h.Length); err != nil {
		return errors.Wrap(err, "channel header length")
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Flags); err != nil {
		return errors.Wrap(err, "channel header flags")
	}
	return nil
}

// IsFirst returns true if this is the first chunk of a PDU
func (h *PDUHeader) IsFirst() bool {
	return h.Flags&FlagFirst != 0
}

// IsLast returns true if this is the last chunk of a PDU
func (h *PDUHeader) IsLast() bool {
	return h.Flags&FlagLast != 0
}

// IsComplete returns true if the PDU fits in a single chunk
func (h *PDUHeader) IsComplete() bool {
	return h.IsFirst() && h.IsLast()
}

// Chunk is one piece of channel data
type Chunk struct {
	Header PDUHeader
	Data   []byte
}

// ParseChunk splits raw channel data into header and payload
func ParseChunk(data []byte) (*Chunk, error) {
	if len(data) < HeaderSize {
		return nil, errors.Newf("channel data too short: %d bytes", len(data))
	}

	chunk := &Chunk{}
	if err := chunk.Header.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if chunk.Header.Flags&FlagCompress != 0 {
		return nil, ErrCompressed
	}
	chunk.Data = data[HeaderSize:]
	return chunk, nil
}

// Defragmenter reassembles chunked channel PDUs
type Defragmenter struct {
	buffer    bytes.Buffer
	totalLen  uint32
	receiving bool
}

// Process consumes a chunk and returns the PDU once its last chunk arrives.
// The returned slice is owned by the caller.
func (d *Defragmenter) Process(chunk *Chunk) ([]byte, bool) {
	if chunk.Header.IsFirst() {
		d.buffer.Reset()
		d.totalLen = chunk.Header.Length
		d.receiving = true
	}

	if !d.receiving {
		return nil, false
	}

	d.buffer.Write(chunk.Data)

	if chunk.Header.IsLast() {
		d.receiving = false
		out := make([]byte, d.buffer.Len())
		copy(out, d.buffer.Bytes())
		d.buffer.Reset()
		return out, true
	}

	return nil, false
}

// Reset drops any partially reassembled PDU
func (d *Defragmenter) Reset() {
	d.buffer.Reset()
	d.totalLen = 0
	d.receiving = false
}

// Split cuts a PDU into chunks of at most chunkSize payload bytes, each with
// its own header. An empty PDU still produces one chunk.
func Split(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var chunks [][]byte
	total := uint32(len(data))
	for offset := 0; ; offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}

		var flags uint32
		if offset == 0 {
			flags |= FlagFirst
		}
		if end == len(data) {
			flags |= FlagLast
		}

		header := PDUHeader{Length: total, Flags: flags}
		buf := make([]byte, HeaderSize+end-offset)
		copy(buf[0:HeaderSize], header.Serialize())
		copy(buf[HeaderSize:], data[offset:end])
		chunks = append(chunks, buf)

		if end == len(data) {
			return chunks
		}
	}
}
