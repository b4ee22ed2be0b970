package channel

import (
	"bytes"
	"testing"
)

func TestPDUHeader_Serialize(t *testing.T) {
	h := PDUHeader{
		Length: 100,
		Flags:  FlagFirst | FlagLast,
	}

	result := h.Serialize()
	expected := []byte{0x64, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00}
	if !bytes.Equal(result, expected) {
		t.Errorf("Serialize() = %v, want %v", result, expected)
	}
}

func TestPDUHeader_Flags(t *testing.T) {
	tests := []struct {
		name       string
		flags      uint32
		isFirst    bool
		isLast     bool
		isComplete bool
	}{
		{"first only", FlagFirst, true, false, false},
		{"last only", FlagLast, false, true, false},
		{"complete", FlagFirst | FlagLast, true, true, true},
		{"middle", 0, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := PDUHeader{Flags: tt.flags}
			if h.IsFirst() != tt.isFirst {
				t.Errorf("IsFirst() = %v, want %v", h.IsFirst(), tt.isFirst)
			}
			if h.IsLast() != tt.isLast {
				t.Errorf("IsLast() = %v, want %v", h.IsLast(), tt.isLast)
			}
			if h.IsComplete() != tt.isComplete {
				t.Errorf("IsComplete() = %v, want %v", h.IsComplete(), tt.isComplete)
			}
		})
	}
}

func TestParseChunk(t *testing.T) {
	data := []byte{
		0x04, 0x00, 0x00, 0x00, // Length = 4
		0x03, 0x00, 0x00, 0x00, // Flags = First | Last
		0x01, 0x02, 0x03, 0x04, // Payload
	}

	chunk, err := ParseChunk(data)
	if err != nil {
		t.Fatalf("ParseChunk() error = %v", err)
	}
	if chunk.Header.Length != 4 {
		t.Errorf("Header.Length = %v, want 4", chunk.Header.Length)
	}
	if !bytes.Equal(chunk.Data, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("Data = %v, want [0x01, 0x02, 0x03, 0x04]", chunk.Data)
	}

	if _, err := ParseChunk(data[:3]); err == nil {
		t.Error("ParseChunk() should return error for short data")
	}
}

func TestParseChunk_Compressed(t *testing.T) {
	data := []byte{0x01, 0x00, 0x00, 0x00, 0x03, 0x00, 0x20, 0x00, 0xFF}
	if _, err := ParseChunk(data); err != ErrCompressed {
		t.Errorf("ParseChunk() error = %v, want ErrCompressed", err)
	}
}

func TestDefragmenter_Fragmented(t *testing.T) {
	d := Defragmenter{}

	if _, complete := d.Process(&Chunk{Header: PDUHeader{Length: 6, Flags: FlagFirst}, Data: []byte{1, 2}}); complete {
		t.Error("Process() should not complete on first fragment")
	}
	if _, complete := d.Process(&Chunk{Header: PDUHeader{Length: 6}, Data: []byte{3, 4}}); complete {
		t.Error("Process() should not complete on middle fragment")
	}
	data, complete := d.Process(&Chunk{Header: PDUHeader{Length: 6, Flags: FlagLast}, Data: []byte{5, 6}})
	if !complete {
		t.Fatal("Process() should complete on last fragment")
	}
	if !bytes.Equal(data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Process() data = %v", data)
	}

	// A stray continuation without a first chunk is dropped
	if _, complete := d.Process(&Chunk{Header: PDUHeader{Flags: FlagLast}, Data: []byte{9}}); complete {
		t.Error("Process() should ignore chunks outside a PDU")
	}
}

func TestSplit_Reassembles(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 4000)
	chunks := Split(payload, 1600)
	if len(chunks) != 3 {
		t.Fatalf("Split() produced %d chunks, want 3", len(chunks))
	}

	d := Defragmenter{}
	var out []byte
	for i, raw := range chunks {
		chunk, err := ParseChunk(raw)
		if err != nil {
			t.Fatalf("ParseChunk(%d) error = %v", i, err)
		}
		if chunk.Header.Length != 4000 {
			t.Errorf("chunk %d Length = %d, want 4000", i, chunk.Header.Length)
		}
		if data, complete := d.Process(chunk); complete {
			out = data
		}
	}
	if !bytes.Equal(out, payload) {
		t.Error("reassembled payload differs")
	}
}

func TestSplit_Small(t *testing.T) {
	chunks := Split([]byte{1}, 0)
	if len(chunks) != 1 {
		t.Fatalf("Split() produced %d chunks, want 1", len(chunks))
	}
	chunk, _ := ParseChunk(chunks[0])
	if !chunk.Header.IsComplete() {
		t.Error("single chunk should carry first and last flags")
	}

	empty := Split(nil, 16)
	if len(empty) != 1 || len(empty[0]) != HeaderSize {
		t.Errorf("Split(nil) = %v", empty)
	}
}
