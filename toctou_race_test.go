package usbserial

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
)

// delayedTransport stretches every transfer and completion wait by a few
// microseconds to widen check-then-act windows between the lifecycle flags
// and the loops acting on them.
type delayedTransport struct {
	transferDelay time.Duration

	completions chan Completion
	closeCh     chan struct{}
	closeOnce   sync.Once

	mu        sync.Mutex
	transfers [][]byte

	transferCount atomic.Int64
	waitCount     atomic.Int64
}

func newDelayedTransport(transferDelay time.Duration) *delayedTransport {
	return &delayedTransport{
		transferDelay: transferDelay,
		completions:   make(chan Completion, 16),
		closeCh:       make(chan struct{}),
	}
}

func (dt *delayedTransport) SubmitInbound(Endpoint, int) (RequestHandle, error) {
	select {
	case <-dt.closeCh:
		return 0, ErrTransportClosed
	default:
		return 1, nil
	}
}

func (dt *delayedTransport) WaitCompletion() (Completion, error) {
	dt.waitCount.Add(1)
	select {
	case completion := <-dt.completions:
		return completion, nil
	case <-dt.closeCh:
		return Completion{}, ErrTransportClosed
	}
}

func (dt *delayedTransport) TransferOutbound(_ Endpoint, p []byte, _ time.Duration) (int, error) {
	dt.transferCount.Add(1)

	// The window under test: the loop took the chunk, the device may be
	// closing right now.
	if dt.transferDelay > 0 {
		time.Sleep(dt.transferDelay)
	}

	select {
	case <-dt.closeCh:
		return 0, ErrTransportClosed
	default:
	}

	data := make([]byte, len(p))
	copy(data, p)
	dt.mu.Lock()
	dt.transfers = append(dt.transfers, data)
	dt.mu.Unlock()
	return len(p), nil
}

func (dt *delayedTransport) Identity() (uint16, uint16) {
	return 0x0403, 0x6001
}

func (dt *delayedTransport) shutdown() {
	dt.closeOnce.Do(func() { close(dt.closeCh) })
}

func (dt *delayedTransport) payloads() [][]byte {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	out := make([][]byte, len(dt.transfers))
	copy(out, dt.transfers)
	return out
}

// TestWriteCloseRaceCondition hammers the window between the open check in
// Write and the write loop teardown in Close. No interleaving may panic,
// deadlock or transfer a chunk twice.
func TestWriteCloseRaceCondition(t *testing.T) {
	for i := 0; i < 50; i++ {
		t.Run("iteration", func(t *testing.T) {
			testWriteCloseRace(t)
		})
	}
}

func testWriteCloseRace(t *testing.T) {
	dt := newDelayedTransport(100 * time.Microsecond)
	d, err := New(dt, Config{
		InEndpoint:   testInEndpoint,
		OutEndpoint:  testOutEndpoint,
		WriteTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var wg sync.WaitGroup
	var writeErrors atomic.Int64

	const numWrites = 32
	for i := 0; i < numWrites; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			// Unique payload per writer so a duplicate transfer is provable.
			err := d.Write([]byte{byte(id)})
			if err != nil && !errors.Is(err, ErrNotOpen) {
				writeErrors.Add(1)
				t.Errorf("unexpected write error: %v", err)
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// Give writes time to start, then tear down mid-storm.
		time.Sleep(50 * time.Microsecond)
		dt.shutdown()
		if err := d.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("test timed out; possible deadlock between Write and Close")
	}

	if writeErrors.Load() > 0 {
		t.Fatalf("unexpected write errors: %d", writeErrors.Load())
	}

	payloads := dt.payloads()
	if int64(len(payloads)) > dt.transferCount.Load() {
		t.Fatalf("%d transfers recorded from %d attempts", len(payloads), dt.transferCount.Load())
	}

	seen := make(map[byte]int)
	for _, payload := range payloads {
		if len(payload) != 1 {
			t.Fatalf("unexpected transfer %v", payload)
		}
		seen[payload[0]]++
		if seen[payload[0]] > 1 {
			t.Fatalf("payload %d transferred twice", payload[0])
		}
	}

	// Writers that won the open check enqueued before the teardown reset;
	// the rest got ErrNotOpen. Nothing may stay behind for a later reopen.
	if got := d.PendingWrites(); got != 0 {
		t.Fatalf("PendingWrites = %d after close, stale chunk slipped past the reset", got)
	}
}

// TestDeliverCloseRaceCondition races inbound completions against Close.
// The loop may drop data caught in the teardown, but it must never deliver
// after the callback's world has been torn down, panic, or wedge Close.
func TestDeliverCloseRaceCondition(t *testing.T) {
	for i := 0; i < 50; i++ {
		t.Run("iteration", func(t *testing.T) {
			testDeliverCloseRace(t)
		})
	}
}

func testDeliverCloseRace(t *testing.T) {
	dt := newDelayedTransport(0)
	d, err := New(dt, Config{
		InEndpoint:  testInEndpoint,
		OutEndpoint: testOutEndpoint,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var deliveries atomic.Int64
	if err := d.Read(func([]byte) {
		deliveries.Add(1)
		time.Sleep(20 * time.Microsecond) // slow consumer widens the window
	}); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	const numCompletions = 16
	go func() {
		defer wg.Done()
		for i := 0; i < numCompletions; i++ {
			select {
			case dt.completions <- Completion{Endpoint: testInEndpoint, Data: []byte{0x01, 0x60, byte(i)}}:
			case <-dt.closeCh:
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		time.Sleep(100 * time.Microsecond)
		dt.shutdown()
		if err := d.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("test timed out; possible deadlock between delivery and Close")
	}

	if got := deliveries.Load(); got > numCompletions {
		t.Fatalf("deliveries = %d, more than the %d completions fed", got, numCompletions)
	}
	if dt.waitCount.Load() == 0 {
		t.Fatal("read loop never reached the completion wait")
	}
}

// TestMixedOperationsRaceCondition runs writes, restarts and a close
// concurrently. Every call must return cleanly regardless of interleaving.
func TestMixedOperationsRaceCondition(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run("iteration", func(t *testing.T) {
			testMixedOperationsRace(t)
		})
	}
}

func testMixedOperationsRace(t *testing.T) {
	dt := newDelayedTransport(50 * time.Microsecond)
	d, err := New(dt, Config{
		InEndpoint:  testInEndpoint,
		OutEndpoint: testOutEndpoint,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var wg sync.WaitGroup

	const numOps = 16
	for i := 0; i < numOps; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := d.Write([]byte{byte(id)}); err != nil && !errors.Is(err, ErrNotOpen) {
				t.Errorf("unexpected write error: %v", err)
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			if err := d.RestartWriteLoop(); err != nil && !errors.Is(err, ErrNotOpen) {
				t.Errorf("unexpected restart error: %v", err)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(200 * time.Microsecond)
		dt.shutdown()
		if err := d.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("test timed out")
	}

	if d.IsOpen() {
		t.Fatal("device should end closed")
	}
}
