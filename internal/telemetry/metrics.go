// Package telemetry tracks per-mount encode and delivery metrics, exposed
// through the admin status endpoint.
package telemetry

import (
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------
// HISTOGRAM - distribution tracking for frame size and encode latency
// ---------------------------------------------------------

// Histogram tracks the distribution of values across exponential buckets.
type Histogram struct {
	buckets     []int64
	boundaries  []float64
	sum         float64
	count       int64
	min         float64
	max         float64
	mu          sync.RWMutex
	initialized bool
}

// NewHistogram creates a histogram with exponential buckets between
// minValue and maxValue.
func NewHistogram(bucketCount int, minValue, maxValue float64) *Histogram {
	if bucketCount < 2 {
		bucketCount = 20
	}

	h := &Histogram{
		buckets:    make([]int64, bucketCount+1), // +1 for overflow bucket
		boundaries: make([]float64, bucketCount),
		min:        math.MaxFloat64,
		max:        0,
	}

	factor := math.Pow(maxValue/minValue, 1.0/float64(bucketCount-1))
	current := minValue
	for i := 0; i < bucketCount; i++ {
		h.boundaries[i] = current
		current *= factor
	}

	h.initialized = true
	return h
}

// NewEncodeLatencyHistogram creates a histogram sized for JPEG encode
// latency: 10µs to 1s.
func NewEncodeLatencyHistogram() *Histogram {
	return NewHistogram(20, 0.00001, 1.0)
}

// NewFrameSizeHistogram creates a histogram sized for compressed frame
// sizes: 1KB to 4MB.
func NewFrameSizeHistogram() *Histogram {
	return NewHistogram(20, 1024, 4*1024*1024)
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += value
	h.count++

	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}

	bucket := len(h.buckets) - 1
	for i, boundary := range h.boundaries {
		if value <= boundary {
			bucket = i
			break
		}
	}
	h.buckets[bucket]++
}

// Percentile calculates the approximate percentile value (0-100).
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return 0
	}

	target := int64(float64(h.count) * p / 100.0)
	var cumulative int64

	for i, count := range h.buckets {
		cumulative += count
		if cumulative >= target {
			if i == 0 {
				return h.boundaries[0] / 2
			}
			if i >= len(h.boundaries) {
				return h.max
			}
			prevBoundary := float64(0)
			if i > 0 {
				prevBoundary = h.boundaries[i-1]
			}
			return (prevBoundary + h.boundaries[i]) / 2
		}
	}

	return h.max
}

// Stats returns histogram statistics.
func (h *Histogram) Stats() HistogramStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HistogramStats{
		Count: h.count,
		Sum:   h.sum,
		Min:   h.min,
		Max:   h.max,
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
	}
	return stats
}

// Reset clears the histogram.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = math.MaxFloat64
	h.max = 0
}

// HistogramStats contains histogram statistics.
type HistogramStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// ---------------------------------------------------------
// RATE CALCULATOR - throughput measurement over a sliding window
// ---------------------------------------------------------

// RateCalculator calculates a rate over a sliding window of samples.
type RateCalculator struct {
	samples    []rateSample
	windowSize int
	position   int
	mu         sync.RWMutex
	total      int64
}

type rateSample struct {
	value int64
	time  time.Time
}

// NewRateCalculator creates a rate calculator over windowSize samples.
func NewRateCalculator(windowSize int) *RateCalculator {
	if windowSize < 10 {
		windowSize = 60
	}
	return &RateCalculator{
		samples:    make([]rateSample, windowSize),
		windowSize: windowSize,
	}
}

// Add records a value.
func (rc *RateCalculator) Add(value int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.samples[rc.position] = rateSample{value: value, time: time.Now()}
	rc.position = (rc.position + 1) % rc.windowSize
	atomic.AddInt64(&rc.total, value)
}

// Rate returns the current rate (values per second).
func (rc *RateCalculator) Rate() float64 {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	var oldest, newest rateSample
	var totalValue int64
	var validCount int

	for _, s := range rc.samples {
		if s.time.IsZero() {
			continue
		}
		validCount++
		totalValue += s.value
		if oldest.time.IsZero() || s.time.Before(oldest.time) {
			oldest = s
		}
		if newest.time.IsZero() || s.time.After(newest.time) {
			newest = s
		}
	}

	if validCount < 2 {
		return 0
	}

	duration := newest.time.Sub(oldest.time).Seconds()
	if duration <= 0 {
		return 0
	}
	return float64(totalValue) / duration
}

// Total returns the cumulative total.
func (rc *RateCalculator) Total() int64 {
	return atomic.LoadInt64(&rc.total)
}

// ---------------------------------------------------------
// MOUNT METRICS - per-mount encode/delivery metrics
// ---------------------------------------------------------

// MountMetrics tracks the encode and delivery metrics for a single mount.
type MountMetrics struct {
	MountPath string    `json:"mount_path"`
	StartTime time.Time `json:"start_time"`

	FramesEncoded int64 `json:"frames_encoded"`
	FramesDropped int64 `json:"frames_dropped"`
	BytesSent     int64 `json:"bytes_sent"`
	bytesSentRate *RateCalculator

	CurrentListeners int32 `json:"current_listeners"`
	PeakListeners    int32 `json:"peak_listeners"`
	TotalConnects    int64 `json:"total_connects"`
	TotalDisconnects int64 `json:"total_disconnects"`

	FrameSize      *Histogram `json:"-"`
	EncodeLatency  *Histogram `json:"-"`

	SourceActive  bool      `json:"source_active"`
	SourceIP      string    `json:"source_ip"`
	SourceConnect time.Time `json:"source_connect"`

	mu sync.RWMutex
}

// NewMountMetrics creates a metrics tracker for one mount path.
func NewMountMetrics(mountPath string) *MountMetrics {
	return &MountMetrics{
		MountPath:     mountPath,
		StartTime:     time.Now(),
		bytesSentRate: NewRateCalculator(60),
		FrameSize:     NewFrameSizeHistogram(),
		EncodeLatency: NewEncodeLatencyHistogram(),
	}
}

// RecordFrameEncoded records one admitted, encoded frame.
func (m *MountMetrics) RecordFrameEncoded(size int, encodeLatency time.Duration) {
	atomic.AddInt64(&m.FramesEncoded, 1)
	m.FrameSize.Observe(float64(size))
	m.EncodeLatency.Observe(encodeLatency.Seconds())
}

// RecordFrameDropped records one admission-gate drop.
func (m *MountMetrics) RecordFrameDropped() {
	atomic.AddInt64(&m.FramesDropped, 1)
}

// RecordBytesSent records bytes sent to listeners.
func (m *MountMetrics) RecordBytesSent(n int) {
	atomic.AddInt64(&m.BytesSent, int64(n))
	m.bytesSentRate.Add(int64(n))
}

// RecordListenerConnect records a new listener connection.
func (m *MountMetrics) RecordListenerConnect() {
	atomic.AddInt64(&m.TotalConnects, 1)
	count := atomic.AddInt32(&m.CurrentListeners, 1)

	for {
		peak := atomic.LoadInt32(&m.PeakListeners)
		if count <= peak || atomic.CompareAndSwapInt32(&m.PeakListeners, peak, count) {
			break
		}
	}
}

// RecordListenerDisconnect records a listener disconnection.
func (m *MountMetrics) RecordListenerDisconnect() {
	atomic.AddInt64(&m.TotalDisconnects, 1)
	atomic.AddInt32(&m.CurrentListeners, -1)
}

// SetSourceActive records source connection status.
func (m *MountMetrics) SetSourceActive(active bool, ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SourceActive = active
	if active {
		m.SourceIP = ip
		m.SourceConnect = time.Now()
	} else {
		m.SourceIP = ""
	}
}

// Snapshot returns a point-in-time view of the metrics.
func (m *MountMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		MountPath:         m.MountPath,
		Uptime:            time.Since(m.StartTime),
		FramesEncoded:     atomic.LoadInt64(&m.FramesEncoded),
		FramesDropped:     atomic.LoadInt64(&m.FramesDropped),
		BytesSent:         atomic.LoadInt64(&m.BytesSent),
		SendRate:          m.bytesSentRate.Rate(),
		CurrentListeners:  atomic.LoadInt32(&m.CurrentListeners),
		PeakListeners:     atomic.LoadInt32(&m.PeakListeners),
		TotalConnects:     atomic.LoadInt64(&m.TotalConnects),
		TotalDisconnects:  atomic.LoadInt64(&m.TotalDisconnects),
		FrameSizeP50:      m.FrameSize.Percentile(50),
		FrameSizeP99:      m.FrameSize.Percentile(99),
		EncodeLatencyP50:  m.EncodeLatency.Percentile(50) * 1000, // ms
		EncodeLatencyP99:  m.EncodeLatency.Percentile(99) * 1000, // ms
		SourceActive:      m.SourceActive,
		SourceIP:          m.SourceIP,
	}
}

// MetricsSnapshot is a point-in-time view of a mount's metrics.
type MetricsSnapshot struct {
	MountPath        string        `json:"mount_path"`
	Uptime           time.Duration `json:"uptime"`
	FramesEncoded    int64         `json:"frames_encoded"`
	FramesDropped    int64         `json:"frames_dropped"`
	BytesSent        int64         `json:"bytes_sent"`
	SendRate         float64       `json:"send_rate_bps"`
	CurrentListeners int32         `json:"current_listeners"`
	PeakListeners    int32         `json:"peak_listeners"`
	TotalConnects    int64         `json:"total_connects"`
	TotalDisconnects int64         `json:"total_disconnects"`
	FrameSizeP50     float64       `json:"frame_size_p50_bytes"`
	FrameSizeP99     float64       `json:"frame_size_p99_bytes"`
	EncodeLatencyP50 float64       `json:"encode_latency_p50_ms"`
	EncodeLatencyP99 float64       `json:"encode_latency_p99_ms"`
	SourceActive     bool          `json:"source_active"`
	SourceIP         string        `json:"source_ip,omitempty"`
}

// JSON returns the JSON representation of the snapshot.
func (s MetricsSnapshot) JSON() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// ---------------------------------------------------------
// REGISTRY - global per-mount metrics registry
// ---------------------------------------------------------

// Registry holds metrics for all mounts.
type Registry struct {
	mounts sync.Map // map[string]*MountMetrics

	StartTime time.Time
}

// GlobalRegistry is the singleton metrics registry.
var GlobalRegistry = &Registry{StartTime: time.Now()}

// GetOrCreate returns metrics for a mount, creating it if needed.
func (r *Registry) GetOrCreate(mountPath string) *MountMetrics {
	if m, ok := r.mounts.Load(mountPath); ok {
		return m.(*MountMetrics)
	}
	metrics := NewMountMetrics(mountPath)
	actual, _ := r.mounts.LoadOrStore(mountPath, metrics)
	return actual.(*MountMetrics)
}

// Get returns metrics for a mount, or nil if none exist.
func (r *Registry) Get(mountPath string) *MountMetrics {
	if m, ok := r.mounts.Load(mountPath); ok {
		return m.(*MountMetrics)
	}
	return nil
}

// Remove removes metrics for a mount.
func (r *Registry) Remove(mountPath string) {
	r.mounts.Delete(mountPath)
}

// All returns all mount metrics.
func (r *Registry) All() []*MountMetrics {
	var result []*MountMetrics
	r.mounts.Range(func(key, value interface{}) bool {
		result = append(result, value.(*MountMetrics))
		return true
	})
	return result
}

// GlobalSnapshot returns server-wide aggregate metrics.
func (r *Registry) GlobalSnapshot() GlobalMetrics {
	var totalSent int64
	var totalListeners, peakListeners int32
	var mounts int

	r.mounts.Range(func(key, value interface{}) bool {
		m := value.(*MountMetrics)
		totalSent += atomic.LoadInt64(&m.BytesSent)
		listeners := atomic.LoadInt32(&m.CurrentListeners)
		totalListeners += listeners
		if peak := atomic.LoadInt32(&m.PeakListeners); peak > peakListeners {
			peakListeners = peak
		}
		mounts++
		return true
	})

	return GlobalMetrics{
		Uptime:         time.Since(r.StartTime),
		ActiveMounts:   mounts,
		TotalListeners: int(totalListeners),
		PeakListeners:  int(peakListeners),
		TotalBytesOut:  totalSent,
	}
}

// GlobalMetrics contains server-wide metrics.
type GlobalMetrics struct {
	Uptime         time.Duration `json:"uptime"`
	ActiveMounts   int           `json:"active_mounts"`
	TotalListeners int           `json:"total_listeners"`
	PeakListeners  int           `json:"peak_listeners"`
	TotalBytesOut  int64         `json:"total_bytes_out"`
}
