package buffer

import "testing"

func TestAddDrainBytes(t *testing.T) {
	b := New()
	b.Add([]byte("hello"))
	b.Add([]byte(" world"))
	if got, want := b.Len(), 11; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got, want := string(b.Bytes()), "hello world"; got != want {
		t.Fatalf("Bytes() = %q, want %q", got, want)
	}
	b.Drain(6)
	if got, want := string(b.Bytes()), "world"; got != want {
		t.Fatalf("Bytes() after drain = %q, want %q", got, want)
	}
	if got, want := b.Len(), 5; got != want {
		t.Fatalf("Len() after drain = %d, want %d", got, want)
	}
}

func TestPrependRestoresUnconsumedRead(t *testing.T) {
	b := New()
	b.Add([]byte("abcdef"))
	peek := b.Peek(3)
	if string(peek) != "abc" {
		t.Fatalf("Peek(3) = %q", peek)
	}
	b.Drain(3)
	b.Prepend([]byte("abc"))
	if got, want := string(b.Bytes()), "abcdef"; got != want {
		t.Fatalf("Bytes() after prepend = %q, want %q", got, want)
	}
}

func TestPrependOnEmptyBuffer(t *testing.T) {
	b := New()
	b.Prepend([]byte("xyz"))
	if got, want := string(b.Bytes()), "xyz"; got != want {
		t.Fatalf("Bytes() = %q, want %q", got, want)
	}
}

func TestPeekInsufficientReturnsNil(t *testing.T) {
	b := New()
	b.Add([]byte("ab"))
	if got := b.Peek(5); got != nil {
		t.Fatalf("Peek(5) = %v, want nil", got)
	}
}

func TestDrainPanicsOnOverrun(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic draining past length")
		}
	}()
	b := New()
	b.Add([]byte("ab"))
	b.Drain(3)
}

func TestCompactionPreservesData(t *testing.T) {
	b := New()
	large := make([]byte, defaultChunk+10)
	for i := range large {
		large[i] = byte(i)
	}
	b.Add(large)
	b.Drain(defaultChunk + 5)
	b.Add([]byte{1, 2, 3})
	if got, want := b.Len(), 8; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
}
