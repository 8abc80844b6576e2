package usbserial

import (
	"errors"
	"time"
)

// defaultMetricsInterval drives broadcasting when the caller passes a
// non-positive interval.
const defaultMetricsInterval = 5 * time.Second

// Metrics accessor and management methods for Device

// GetMetrics returns the device's metrics instance.
func (d *Device) GetMetrics() *Metrics {
	return d.metrics
}

// Snapshot creates a comprehensive point-in-time view of the device's
// counters together with the derived rates.
func (d *Device) Snapshot() MetricsSnapshot {
	now := d.clock.Now()
	isOpen := d.isOpen.Load()
	sessionStart := d.metrics.SessionStart.Load()

	snapshot := MetricsSnapshot{
		Timestamp: now,
		Variant:   d.profile.Variant.String(),
		IsOpen:    isOpen,
	}

	// Raw counters
	snapshot.WriteOperations = d.metrics.WriteOperations.Load()
	snapshot.Transfers = d.metrics.Transfers.Load()
	snapshot.TransferTimeouts = d.metrics.TransferTimeouts.Load()
	snapshot.WriteErrors = d.metrics.WriteErrors.Load()
	snapshot.DroppedChunks = d.metrics.DroppedChunks.Load()
	snapshot.BytesWritten = d.metrics.BytesWritten.Load()
	snapshot.PendingWrites = d.buf.PendingWrites()
	snapshot.MaxWriteLatency = time.Duration(d.metrics.MaxWriteTime.Load())
	snapshot.Completions = d.metrics.Completions.Load()
	snapshot.IgnoredCompletions = d.metrics.IgnoredCompletions.Load()
	snapshot.Deliveries = d.metrics.Deliveries.Load()
	snapshot.BytesRead = d.metrics.BytesRead.Load()
	snapshot.StatusUpdates = d.metrics.StatusUpdates.Load()
	snapshot.ReadErrors = d.metrics.ReadErrors.Load()
	snapshot.CallbackPanics = d.metrics.CallbackPanics.Load()
	snapshot.ReadLoopRestarts = d.metrics.ReadLoopRestarts.Load()
	snapshot.WriteLoopRestarts = d.metrics.WriteLoopRestarts.Load()
	snapshot.ConsecutiveFailures = d.metrics.ConsecutiveFailures.Load()

	// Calculate rates and averages
	snapshot.WriteSuccessRate = d.metrics.calculateWriteSuccessRate()
	snapshot.AverageWriteLatency = d.metrics.calculateAverageWriteLatency()
	snapshot.TimeoutRate = d.metrics.calculateTimeoutRate()
	snapshot.ThroughputBPS = d.metrics.calculateThroughput(isOpen, sessionStart, now)
	snapshot.BufferPoolHitRatio = d.metrics.calculateBufferPoolHitRatio()
	snapshot.UptimeSeconds = d.metrics.calculateUptime(isOpen, sessionStart, now)

	// Health assessment
	snapshot.HealthStatus = d.metrics.assessHealthStatus(&snapshot)
	snapshot.HealthScore = d.metrics.calculateHealthScore(&snapshot)

	return snapshot
}

// EnableMetrics turns on metrics collection.
func (d *Device) EnableMetrics() {
	d.metricsEnabled.Store(true)
}

// DisableMetrics turns off metrics collection.
func (d *Device) DisableMetrics() {
	d.metricsEnabled.Store(false)
}

// IsMetricsEnabled reports whether metrics collection is enabled.
func (d *Device) IsMetricsEnabled() bool {
	return d.metricsEnabled.Load()
}

// ResetMetrics clears all counters (useful for testing). The metrics
// instance is shared with the buffer pools, so it is zeroed in place rather
// than replaced.
func (d *Device) ResetMetrics() {
	d.metrics.reset()
}

// StartMetricsBroadcasting begins broadcasting metrics snapshots at the
// given interval. A non-positive interval falls back to the default. An
// existing broadcaster is stopped and replaced.
func (d *Device) StartMetricsBroadcasting(interval time.Duration) {
	if interval <= 0 {
		interval = defaultMetricsInterval
	}

	d.broadcastMu.Lock()
	defer d.broadcastMu.Unlock()

	if d.broadcaster != nil {
		d.broadcaster.Stop()
	}

	channelSize := d.cfg.MetricsChannelSize
	if channelSize <= 0 {
		channelSize = defaultMetricsChannelSize
	}

	d.broadcaster = NewMetricsBroadcaster(d.clock, channelSize, interval)
	d.broadcaster.Start(d)
}

// StopMetricsBroadcasting stops broadcasting metrics.
func (d *Device) StopMetricsBroadcasting() {
	d.broadcastMu.Lock()
	defer d.broadcastMu.Unlock()

	if d.broadcaster != nil {
		d.broadcaster.Stop()
		d.broadcaster = nil
	}
}

// BroadcastMetricsImmediate schedules an out-of-cycle snapshot broadcast.
func (d *Device) BroadcastMetricsImmediate() {
	d.broadcastMu.Lock()
	defer d.broadcastMu.Unlock()

	if d.broadcaster != nil {
		d.broadcaster.BroadcastImmediate()
	}
}

// MetricsChannel returns the read-only metrics channel for consumers.
func (d *Device) MetricsChannel() (<-chan MetricsSnapshot, error) {
	d.broadcastMu.Lock()
	defer d.broadcastMu.Unlock()

	if d.broadcaster == nil {
		return nil, errors.New("usbserial: metrics broadcasting not started")
	}
	return d.broadcaster.GetMetricsChannel(), nil
}

// GetBufferPoolStats returns per-class statistics for the payload pools.
func (d *Device) GetBufferPoolStats() []PoolStats {
	return d.pools.GetAllPoolStats()
}

// ResetBufferPoolStats clears buffer pool statistics (useful for testing).
func (d *Device) ResetBufferPoolStats() {
	d.pools.ResetPoolStats()
}

// Internal metrics recording methods

func (d *Device) recordWriteQueued() {
	if !d.metricsEnabled.Load() {
		return
	}
	d.metrics.WriteOperations.Add(1)
}

func (d *Device) recordTransfer(bytesWritten int, err error, duration time.Duration) {
	if !d.metricsEnabled.Load() {
		return
	}

	d.metrics.Transfers.Add(1)
	d.metrics.TotalWriteTime.Add(duration.Nanoseconds())

	// Update max transfer time
	for {
		current := d.metrics.MaxWriteTime.Load()
		if duration.Nanoseconds() <= current {
			break
		}
		if d.metrics.MaxWriteTime.CompareAndSwap(current, duration.Nanoseconds()) {
			break
		}
	}

	// A timed-out attempt can still have moved bytes before the deadline.
	if bytesWritten > 0 {
		d.metrics.BytesWritten.Add(int64(bytesWritten))
	}

	if err != nil {
		if errors.Is(err, ErrTransferTimeout) {
			d.metrics.TransferTimeouts.Add(1)
		} else {
			d.metrics.WriteErrors.Add(1)
		}
		d.metrics.ConsecutiveFailures.Add(1)
		d.metrics.LastErrorTime.Store(d.clock.Now().Unix())
		return
	}

	d.metrics.ConsecutiveFailures.Store(0)
}

func (d *Device) recordDroppedChunk() {
	if !d.metricsEnabled.Load() {
		return
	}
	d.metrics.DroppedChunks.Add(1)
}

func (d *Device) recordCompletion() {
	if !d.metricsEnabled.Load() {
		return
	}
	d.metrics.Completions.Add(1)
}

func (d *Device) recordIgnoredCompletion() {
	if !d.metricsEnabled.Load() {
		return
	}
	d.metrics.IgnoredCompletions.Add(1)
}

func (d *Device) recordDelivery(bytesRead int) {
	if !d.metricsEnabled.Load() {
		return
	}
	d.metrics.Deliveries.Add(1)
	if bytesRead > 0 {
		d.metrics.BytesRead.Add(int64(bytesRead))
	}
}

func (d *Device) recordReadError() {
	if !d.metricsEnabled.Load() {
		return
	}
	d.metrics.ReadErrors.Add(1)
	d.metrics.LastErrorTime.Store(d.clock.Now().Unix())
}

func (d *Device) recordCallbackPanic() {
	if !d.metricsEnabled.Load() {
		return
	}
	d.metrics.CallbackPanics.Add(1)
}
