package audio

import (
	"bytes"
	"testing"
)

func TestRingBuffer_WriteRead(t *testing.T) {
	rb := NewRingBuffer(16)

	data := []byte{1, 2, 3, 4, 5}
	written := rb.Write(data)
	if written != 5 {
		t.Errorf("Expected 5 bytes written, got %d", written)
	}
	if rb.Available() != 5 {
		t.Errorf("Expected 5 bytes available, got %d", rb.Available())
	}

	out := make([]byte, 5)
	read := rb.Read(out)
	if read != 5 {
		t.Errorf("Expected 5 bytes read, got %d", read)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("Expected %v, got %v", data, out)
	}
}

func TestRingBuffer_PartialRead(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte{1, 2, 3})

	out := make([]byte, 8)
	read := rb.Read(out)
	if read != 3 {
		t.Errorf("Expected 3 bytes read, got %d", read)
	}
}

func TestRingBuffer_FullBuffer(t *testing.T) {
	rb := NewRingBuffer(8)

	// Capacity is size-1 to disambiguate full from empty
	written := rb.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if written != 7 {
		t.Errorf("Expected 7 bytes written to full buffer, got %d", written)
	}
	if rb.Space() != 0 {
		t.Errorf("Expected 0 space on full buffer, got %d", rb.Space())
	}
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(8)

	for round := 0; round < 5; round++ {
		in := []byte{byte(round), byte(round + 1), byte(round + 2)}
		if w := rb.Write(in); w != 3 {
			t.Fatalf("Round %d: expected 3 written, got %d", round, w)
		}
		out := make([]byte, 3)
		if r := rb.Read(out); r != 3 {
			t.Fatalf("Round %d: expected 3 read, got %d", round, r)
		}
		if !bytes.Equal(out, in) {
			t.Errorf("Round %d: expected %v, got %v", round, in, out)
		}
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte{1, 2, 3})
	rb.Clear()

	if rb.Available() != 0 {
		t.Errorf("Expected empty buffer after Clear, got %d available", rb.Available())
	}
}
