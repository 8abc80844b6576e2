package usbserial

import (
	"bytes"
	"testing"
	"time"
)

func TestStreamBufferFIFO(t *testing.T) {
	b := NewStreamBuffer(NewBufferPoolManager(nil))

	for _, p := range []string{"first", "second", "third"} {
		b.PutWrite([]byte(p))
	}
	if got := b.PendingWrites(); got != 3 {
		t.Fatalf("PendingWrites = %d, want 3", got)
	}

	done := make(chan struct{})
	for _, want := range []string{"first", "second", "third"} {
		chunk, release, ok := b.TakeWrite(done)
		if !ok {
			t.Fatal("TakeWrite returned !ok with chunks pending")
		}
		if !bytes.Equal(chunk, []byte(want)) {
			t.Fatalf("chunk = %q, want %q", chunk, want)
		}
		if release != nil {
			release()
		}
	}
	if got := b.PendingWrites(); got != 0 {
		t.Fatalf("PendingWrites = %d after drain, want 0", got)
	}
}

func TestPutWriteCopiesPayload(t *testing.T) {
	b := NewStreamBuffer(nil)

	p := []byte("stable")
	b.PutWrite(p)
	p[0] = 'X' // caller may reuse its slice immediately

	chunk, _, ok := b.TakeWrite(make(chan struct{}))
	if !ok {
		t.Fatal("TakeWrite returned !ok")
	}
	if !bytes.Equal(chunk, []byte("stable")) {
		t.Fatalf("chunk = %q, caller mutation leaked into the queue", chunk)
	}
}

func TestPutWriteEmptyIsNoop(t *testing.T) {
	b := NewStreamBuffer(nil)
	b.PutWrite(nil)
	b.PutWrite([]byte{})
	if got := b.PendingWrites(); got != 0 {
		t.Fatalf("PendingWrites = %d after empty puts, want 0", got)
	}
}

func TestTakeWriteBlocksUntilPut(t *testing.T) {
	b := NewStreamBuffer(nil)

	got := make(chan []byte, 1)
	go func() {
		chunk, _, ok := b.TakeWrite(make(chan struct{}))
		if ok {
			got <- chunk
		}
	}()

	// Taker must be parked, not spinning on an empty queue.
	select {
	case <-got:
		t.Fatal("TakeWrite returned before anything was queued")
	case <-time.After(20 * time.Millisecond):
	}

	b.PutWrite([]byte("wake"))
	select {
	case chunk := <-got:
		if !bytes.Equal(chunk, []byte("wake")) {
			t.Fatalf("chunk = %q, want wake", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("TakeWrite never woke up")
	}
}

func TestTakeWriteCancelled(t *testing.T) {
	b := NewStreamBuffer(nil)

	done := make(chan struct{})
	returned := make(chan bool, 1)
	go func() {
		_, _, ok := b.TakeWrite(done)
		returned <- ok
	}()

	close(done)
	select {
	case ok := <-returned:
		if ok {
			t.Fatal("cancelled TakeWrite reported ok")
		}
	case <-time.After(time.Second):
		t.Fatal("TakeWrite did not observe cancellation")
	}
}

func TestResetWriteReturnsChunksToPool(t *testing.T) {
	pools := NewBufferPoolManager(nil)
	b := NewStreamBuffer(pools)

	for i := 0; i < 3; i++ {
		b.PutWrite([]byte("pooled"))
	}
	b.ResetWrite()

	if got := b.PendingWrites(); got != 0 {
		t.Fatalf("PendingWrites = %d after reset, want 0", got)
	}
	// All three chunks fit the small class and must come back on reset.
	stats := pools.GetAllPoolStats()[0]
	if stats.Puts != 3 {
		t.Fatalf("small pool puts = %d, want 3", stats.Puts)
	}
}

func TestTakeAfterResetStillWorks(t *testing.T) {
	b := NewStreamBuffer(nil)

	b.PutWrite([]byte("stale"))
	b.ResetWrite()

	// The wake token left over from the discarded chunk must not produce a
	// phantom take.
	b.PutWrite([]byte("live"))
	chunk, _, ok := b.TakeWrite(make(chan struct{}))
	if !ok || !bytes.Equal(chunk, []byte("live")) {
		t.Fatalf("chunk = %q ok=%v, want live", chunk, ok)
	}
	if got := b.PendingWrites(); got != 0 {
		t.Fatalf("PendingWrites = %d, want 0", got)
	}
}

func TestAppendDrainRead(t *testing.T) {
	b := NewStreamBuffer(nil)

	if got, mark := b.DrainRead(); got != nil || mark != 0 {
		t.Fatalf("DrainRead on empty buffer = %v mark=%d, want nil, 0", got, mark)
	}

	b.AppendRead([]byte("ab"))
	b.AppendRead([]byte("cd"))
	got, mark := b.DrainRead()
	if !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("DrainRead = %q, want abcd", got)
	}
	if mark != 4 {
		t.Fatalf("mark = %d, want 4", mark)
	}

	// Draining takes the bytes but not the mark; only a reset rewinds it.
	got, mark = b.DrainRead()
	if got != nil || mark != 4 {
		t.Fatalf("second DrainRead = %v mark=%d, want nil, 4", got, mark)
	}
	b.ResetRead()
	if _, mark = b.DrainRead(); mark != 0 {
		t.Fatalf("mark = %d after reset, want 0", mark)
	}
}

func TestResetReadDiscards(t *testing.T) {
	b := NewStreamBuffer(nil)

	b.AppendRead([]byte("doomed"))
	b.ResetRead()
	if got, mark := b.DrainRead(); got != nil || mark != 0 {
		t.Fatalf("DrainRead after reset = %q mark=%d, want nil, 0", got, mark)
	}
}
