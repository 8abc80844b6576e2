package usbserial

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Metrics tracks device I/O health statistics. All fields are atomic: the
// loops update them lock-free and snapshots read them without stopping the
// world.
type Metrics struct {
	// Lifecycle
	OpenCount     atomic.Int64 // Successful opens
	CloseCount    atomic.Int64 // Closes that actually closed
	LastOpenTime  atomic.Int64 // Unix timestamp of last open
	LastCloseTime atomic.Int64 // Unix timestamp of last close
	SessionStart  atomic.Int64 // When the current session started (ns)

	// Outbound path
	WriteOperations  atomic.Int64 // Chunks accepted by Write
	Transfers        atomic.Int64 // Outbound transfer attempts
	TransferTimeouts atomic.Int64 // Attempts that hit the bounded timeout
	WriteErrors      atomic.Int64 // Attempts that failed outright
	DroppedChunks    atomic.Int64 // Chunks dropped on failure or forced stop
	BytesWritten     atomic.Int64 // Bytes confirmed by the transport
	TotalWriteTime   atomic.Int64 // Total time spent in transfers (ns)
	MaxWriteTime     atomic.Int64 // Slowest transfer attempt (ns)
	BufferErrors     atomic.Int64 // Write payloads rejected by validation

	// Inbound path
	Completions        atomic.Int64 // Matching completions consumed
	IgnoredCompletions atomic.Int64 // Completions filtered out by endpoint identity
	Deliveries         atomic.Int64 // Read callback invocations
	BytesRead          atomic.Int64 // Adapted payload bytes delivered
	StatusUpdates      atomic.Int64 // Line status frames decoded
	ReadErrors         atomic.Int64 // Inbound arm or wait failures
	CallbackPanics     atomic.Int64 // Recovered read callback panics

	// Loop lifecycle
	ReadLoopRestarts  atomic.Int64 // Fresh read loop instances after the first
	WriteLoopRestarts atomic.Int64 // Fresh write loop instances after the first

	// Buffer Pool Metrics
	PoolHits   atomic.Int64 // Buffer pool cache hits
	PoolMisses atomic.Int64 // Buffer pool cache misses

	// Health Indicators
	ConsecutiveFailures atomic.Int64 // Consecutive outbound failures
	LastErrorTime       atomic.Int64 // Timestamp of last outbound failure
}

// HealthStatus represents the overall health of the device's I/O.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// MetricsSnapshot is a point-in-time copy of the device's counters plus the
// derived rates the raw counters cannot express.
type MetricsSnapshot struct {
	Timestamp time.Time
	Variant   string
	IsOpen    bool

	// Outbound path
	WriteOperations     int64
	Transfers           int64
	TransferTimeouts    int64
	WriteErrors         int64
	DroppedChunks       int64
	BytesWritten        int64
	PendingWrites       int
	WriteSuccessRate    float64 // percent
	AverageWriteLatency time.Duration
	MaxWriteLatency     time.Duration

	// Inbound path
	Completions        int64
	IgnoredCompletions int64
	Deliveries         int64
	BytesRead          int64
	StatusUpdates      int64
	ReadErrors         int64
	CallbackPanics     int64

	// Loop lifecycle
	ReadLoopRestarts  int64
	WriteLoopRestarts int64

	// Derived rates
	TimeoutRate        float64 // percent of transfer attempts
	ThroughputBPS      float64 // bytes per second over the session
	BufferPoolHitRatio float64 // percent
	UptimeSeconds      float64

	// Health
	ConsecutiveFailures int64
	HealthStatus        HealthStatus
	HealthScore         float64
}

// MetricsBroadcaster handles channel-based metrics broadcasting.
type MetricsBroadcaster struct {
	metricsChannel   chan MetricsSnapshot
	broadcastTicker  *clock.Ticker
	clk              clock.Clock
	enabled          atomic.Bool
	stopCh           chan struct{}
	kickCh           chan struct{}
	emissionInterval time.Duration
	stopOnce         sync.Once // Prevent double-close race
}

// NewMetricsBroadcaster creates a metrics broadcaster with channel-based
// distribution. The clock drives the emission ticker.
func NewMetricsBroadcaster(clk clock.Clock, channelSize int, interval time.Duration) *MetricsBroadcaster {
	return &MetricsBroadcaster{
		metricsChannel:   make(chan MetricsSnapshot, channelSize),
		clk:              clk,
		stopCh:           make(chan struct{}),
		kickCh:           make(chan struct{}, 1),
		emissionInterval: interval,
	}
}

// Start begins broadcasting d's metrics to the channel.
func (mb *MetricsBroadcaster) Start(d *Device) {
	if !mb.enabled.CompareAndSwap(false, true) {
		return // Already running
	}

	mb.broadcastTicker = mb.clk.Ticker(mb.emissionInterval)

	go func() {
		defer mb.broadcastTicker.Stop()
		// The goroutine is the sole sender, so it alone may close the
		// channel.
		defer close(mb.metricsChannel)

		for {
			select {
			case <-mb.stopCh:
				return
			case <-mb.broadcastTicker.C:
				mb.broadcast(d.Snapshot())
			case <-mb.kickCh:
				mb.broadcast(d.Snapshot())
			}
		}
	}()
}

// Stop stops broadcasting metrics. The channel is closed by the broadcast
// goroutine on its way out.
func (mb *MetricsBroadcaster) Stop() {
	if mb.enabled.CompareAndSwap(true, false) {
		mb.stopOnce.Do(func() {
			close(mb.stopCh)
		})
	}
}

// BroadcastImmediate schedules an out-of-cycle snapshot (for critical
// events). It never blocks; a broadcast already pending is enough.
func (mb *MetricsBroadcaster) BroadcastImmediate() {
	select {
	case mb.kickCh <- struct{}{}:
	default:
	}
}

// GetMetricsChannel returns the read-only metrics channel for consumers.
func (mb *MetricsBroadcaster) GetMetricsChannel() <-chan MetricsSnapshot {
	return mb.metricsChannel
}

func (mb *MetricsBroadcaster) broadcast(snapshot MetricsSnapshot) {
	// Non-blocking send: a full channel skips this broadcast rather than
	// stalling the broadcaster.
	select {
	case mb.metricsChannel <- snapshot:
	default:
	}
}

// Metrics calculation methods
func (m *Metrics) calculateWriteSuccessRate() float64 {
	transfers := m.Transfers.Load()
	if transfers == 0 {
		return 100.0
	}
	failures := m.TransferTimeouts.Load() + m.WriteErrors.Load()
	return float64(transfers-failures) / float64(transfers) * 100
}

func (m *Metrics) calculateAverageWriteLatency() time.Duration {
	transfers := m.Transfers.Load()
	if transfers == 0 {
		return 0
	}
	totalTime := m.TotalWriteTime.Load()
	return time.Duration(totalTime / transfers)
}

func (m *Metrics) calculateTimeoutRate() float64 {
	transfers := m.Transfers.Load()
	if transfers == 0 {
		return 0.0
	}
	return float64(m.TransferTimeouts.Load()) / float64(transfers) * 100
}

func (m *Metrics) calculateThroughput(isOpen bool, sessionStart int64, now time.Time) float64 {
	if !isOpen || sessionStart == 0 {
		return 0.0
	}

	duration := now.UnixNano() - sessionStart
	if duration <= 0 {
		return 0.0
	}

	totalBytes := m.BytesRead.Load() + m.BytesWritten.Load()
	seconds := float64(duration) / float64(time.Second)
	return float64(totalBytes) / seconds
}

func (m *Metrics) calculateBufferPoolHitRatio() float64 {
	total := m.PoolHits.Load() + m.PoolMisses.Load()
	if total == 0 {
		return 100.0
	}
	return float64(m.PoolHits.Load()) / float64(total) * 100
}

func (m *Metrics) calculateUptime(isOpen bool, sessionStart int64, now time.Time) float64 {
	if !isOpen || sessionStart == 0 {
		return 0.0
	}

	duration := now.UnixNano() - sessionStart
	if duration <= 0 {
		return 0.0
	}

	return float64(duration) / float64(time.Second)
}

func (m *Metrics) assessHealthStatus(snapshot *MetricsSnapshot) HealthStatus {
	if !snapshot.IsOpen {
		return HealthStatusDown
	}

	errorRate := 100.0 - snapshot.WriteSuccessRate

	// Check for critical issues
	if errorRate > 50.0 || snapshot.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}

	// Check for performance degradation
	if errorRate > 10.0 || snapshot.TimeoutRate > 20.0 || snapshot.ConsecutiveFailures > 3 {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

func (m *Metrics) calculateHealthScore(snapshot *MetricsSnapshot) float64 {
	if !snapshot.IsOpen {
		return 0.0
	}

	score := 100.0

	// Deduct for failed transfers
	score -= (100.0 - snapshot.WriteSuccessRate) * 2

	// Deduct for timeouts
	score -= snapshot.TimeoutRate

	// Deduct for consecutive failures (more severe penalty)
	score -= float64(snapshot.ConsecutiveFailures) * 10

	// Ensure score doesn't go below 0
	if score < 0 {
		score = 0
	}

	return score
}

// reset zeroes every counter in place.
func (m *Metrics) reset() {
	m.OpenCount.Store(0)
	m.CloseCount.Store(0)
	m.LastOpenTime.Store(0)
	m.LastCloseTime.Store(0)
	m.SessionStart.Store(0)
	m.WriteOperations.Store(0)
	m.Transfers.Store(0)
	m.TransferTimeouts.Store(0)
	m.WriteErrors.Store(0)
	m.DroppedChunks.Store(0)
	m.BytesWritten.Store(0)
	m.TotalWriteTime.Store(0)
	m.MaxWriteTime.Store(0)
	m.BufferErrors.Store(0)
	m.Completions.Store(0)
	m.IgnoredCompletions.Store(0)
	m.Deliveries.Store(0)
	m.BytesRead.Store(0)
	m.StatusUpdates.Store(0)
	m.ReadErrors.Store(0)
	m.CallbackPanics.Store(0)
	m.ReadLoopRestarts.Store(0)
	m.WriteLoopRestarts.Store(0)
	m.PoolHits.Store(0)
	m.PoolMisses.Store(0)
	m.ConsecutiveFailures.Store(0)
	m.LastErrorTime.Store(0)
}
