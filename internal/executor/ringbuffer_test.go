package executor

import (
	"strings"
	"testing"
)

func TestRingBuffer_WriteUnderLimit(t *testing.T) {
	rb := newRingBuffer(64)
	rb.Write([]byte("hello"))
	if got := rb.String(); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestRingBuffer_OverflowTruncatesAndMarks(t *testing.T) {
	rb := newRingBuffer(16)
	for i := 0; i < 10; i++ {
		rb.Write([]byte("0123456789"))
	}
	got := rb.String()
	if !strings.HasPrefix(got, "[truncated:") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if len(got) > 16+64 {
		t.Errorf("retained output too large: %d bytes", len(got))
	}
}

func TestRingBuffer_NeverErrors(t *testing.T) {
	rb := newRingBuffer(4)
	for i := 0; i < 100; i++ {
		if _, err := rb.Write([]byte("overflow-me")); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	}
}

func TestRingBuffer_EmptyBuffer(t *testing.T) {
	rb := newRingBuffer(16)
	if got := rb.String(); got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}
