// Package mount owns one video stream mount point: the Encoder that turns
// admitted source frames into compressed JPEG output, the ring buffer of
// those frames, and the listeners reading from it. Adapted from gocast's
// internal/stream.Mount/MountManager, which does the same bookkeeping job
// for raw MP3/AAC byte streams.
package mount

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gocast/mjpegrc/internal/codec"
	"github.com/gocast/mjpegrc/internal/config"
	"github.com/gocast/mjpegrc/internal/ratectl"
	"github.com/gocast/mjpegrc/internal/telemetry"
	"github.com/gocast/mjpegrc/internal/videoenc"
)

var (
	ErrMountNotFound      = errors.New("mount point not found")
	ErrMountAlreadyExists = errors.New("mount point already exists")
	ErrNoSource           = errors.New("no source connected")
	ErrMaxListeners       = errors.New("maximum listeners reached")
	ErrSourceConnected    = errors.New("source already connected")
)

// Listener represents a connected viewer pulling frames from a Mount.
type Listener struct {
	ID          string
	IP          string
	UserAgent   string
	ConnectedAt time.Time
	FramesSent  int64
	BytesSent   int64
	LastActive  time.Time
	IsBot       bool
	LastSeq     uint64
	done        chan struct{}
}

// NewListener creates a new listener with minimal info. It does not pick a
// starting frame; the HTTP stream loop starts each listener at the mount's
// latest frame so it doesn't replay the whole ring on connect.
func NewListener(ip, userAgent string) *Listener {
	return &Listener{
		ID:          uuid.New().String(),
		IP:          ip,
		UserAgent:   userAgent,
		ConnectedAt: time.Now(),
		LastActive:  time.Now(),
		done:        make(chan struct{}),
	}
}

// NewListenerWithBot creates a new listener with the bot flag pre-set.
func NewListenerWithBot(ip, userAgent string, isBot bool) *Listener {
	l := NewListener(ip, userAgent)
	l.IsBot = isBot
	return l
}

// Close closes the listener connection.
func (l *Listener) Close() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// Done returns the listener's close channel.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Mount represents one video stream mount point: a producer pushing raw
// scanline chunks in, an Encoder turning completed frames into compressed
// JPEG via the rate-control core, and a set of listeners pulling frames
// back out through the FrameBuffer.
type Mount struct {
	Path   string
	Config *config.MountConfig

	encoder videoenc.Encoder
	frames  *FrameBuffer

	// HOT PATH: sourceActive is atomic for lock-free streaming, checked on
	// every scanline chunk written and every listener poll.
	sourceActive atomic.Bool

	bitmap   *videoenc.SourceBitmap
	bitmapMu sync.Mutex // serializes the single active source connection's writes

	listeners           map[string]*Listener
	listenerCount        int32
	peakUniqueListeners  int32
	sourceIP             string
	sourceID             string
	startTime            time.Time
	framesReceived       int64

	mu         sync.RWMutex // protects sourceIP, sourceID, startTime
	listenerMu sync.RWMutex // protects listeners map
	configMu   sync.RWMutex

	metrics *telemetry.MountMetrics
}

// NewMount creates a new mount point, building the Encoder from the mount's
// negotiated geometry and the ratectl starting byte rate.
func NewMount(path string, cfg *config.MountConfig) *Mount {
	if cfg == nil {
		cfg = &config.MountConfig{
			Name:               path,
			MaxListeners:       100,
			Public:             true,
			Width:              640,
			Height:             480,
			SourcePixelFormat:  "bgrx32",
			SourceFPS:          25,
			StartingBitRateBps: 2_000_000,
		}
	}

	callbacks := ratectl.Callbacks{
		GetSourceFPS: func() int { return cfg.SourceFPS },
	}

	var overlay videoenc.Overlay
	m := &Mount{
		Path:      path,
		Config:    cfg,
		listeners: make(map[string]*Listener),
		frames:    NewFrameBuffer(),
		metrics:   telemetry.GlobalRegistry.GetOrCreate(path),
	}
	if cfg.OverlayText {
		overlay.Text = m.overlayText
	}
	m.encoder = videoenc.NewMJPEGEncoder(cfg.StartingBitRateBps, callbacks, cfg.Width, cfg.Height, overlay)
	m.bitmap = videoenc.NewSourceBitmap(cfg.Width, cfg.Height, codec.ParsePixelFormat(cfg.SourcePixelFormat))
	return m
}

// overlayText renders the current rate-control decision for diagnostics.
func (m *Mount) overlayText() string {
	ctl := m.encoder.Controller()
	return fmt.Sprintf("q=%d fps=%d", ctl.QualityID(), ctl.FPS())
}

// SetConfig updates the mount's configuration (for hot-reload support).
// Geometry, pixel format, source fps and starting bit rate are read only by
// NewMount: this Mount keeps the encoder and bitmap it was built with, also
// across later source connections.
func (m *Mount) SetConfig(cfg *config.MountConfig) {
	m.configMu.Lock()
	defer m.configMu.Unlock()
	m.Config = cfg
}

// GetConfig returns the mount's current configuration.
func (m *Mount) GetConfig() *config.MountConfig {
	m.configMu.RLock()
	defer m.configMu.RUnlock()
	return m.Config
}

// StartSource starts a source connection.
func (m *Mount) StartSource(sourceIP string) error {
	if !m.sourceActive.CompareAndSwap(false, true) {
		return ErrSourceConnected
	}

	m.mu.Lock()
	m.sourceIP = sourceIP
	m.sourceID = uuid.New().String()
	m.startTime = time.Now()
	atomic.StoreInt64(&m.framesReceived, 0)
	m.mu.Unlock()

	m.bitmapMu.Lock()
	m.bitmap.Reset()
	m.bitmapMu.Unlock()
	m.metrics.SetSourceActive(true, sourceIP)
	return nil
}

// StopSource stops the source connection.
func (m *Mount) StopSource() {
	m.sourceActive.Store(false)

	m.mu.Lock()
	m.sourceIP = ""
	m.sourceID = ""
	m.mu.Unlock()
	m.metrics.SetSourceActive(false, "")
}

// IsActive returns true if a source is connected.
// HOT PATH: lock-free atomic read, called on every streaming iteration.
func (m *Mount) IsActive() bool {
	return m.sourceActive.Load()
}

// WriteScanline appends one raw scanline chunk from the source to the
// in-progress frame. HOT PATH: called once per scanline at the source's
// native capture rate.
func (m *Mount) WriteScanline(data []byte) error {
	if !m.sourceActive.Load() {
		return ErrNoSource
	}

	m.bitmapMu.Lock()
	defer m.bitmapMu.Unlock()
	return m.bitmap.AppendChunk(data)
}

// CompleteFrame is called once the source has delivered every scanline of
// the current frame. It offers the accumulated bitmap to the Encoder at
// frameMMTime and, if admitted, pushes the compressed result into the
// FrameBuffer for listeners. Once a complete frame has been offered it
// resets the bitmap for the next frame, whether or not this one was
// admitted; called before every scanline has arrived, it returns false and
// leaves the partial bitmap in place.
func (m *Mount) CompleteFrame(frameMMTime ratectl.MMTime) (bool, error) {
	if !m.sourceActive.Load() {
		return false, ErrNoSource
	}

	m.bitmapMu.Lock()
	defer m.bitmapMu.Unlock()

	if !m.bitmap.Complete() {
		return false, nil
	}
	defer m.bitmap.Reset()

	encodeStart := time.Now()
	admitted, err := m.encoder.EncodeFrame(frameMMTime, m.bitmap)
	atomic.AddInt64(&m.framesReceived, 1)
	if err != nil {
		return false, err
	}
	if admitted {
		buf := m.encoder.Buffer()
		m.frames.Push(buf.Data, buf.QualityID)
		m.metrics.RecordFrameEncoded(len(buf.Data), time.Since(encodeStart))
	} else {
		m.metrics.RecordFrameDropped()
	}
	return admitted, nil
}

// ClientStreamReport forwards listener-measured feedback into the
// rate-control core for this mount's encoder.
func (m *Mount) ClientStreamReport(numFrames, numDrops int, startMM, endMM ratectl.MMTime, videoDelayMS, audioDelayMS float64) {
	m.encoder.Controller().ClientStreamReport(numFrames, numDrops, startMM, endMM, videoDelayMS, audioDelayMS)
}

// Controller exposes the underlying rate-control core.
func (m *Mount) Controller() *ratectl.Controller { return m.encoder.Controller() }

// Metrics exposes the mount's telemetry tracker.
func (m *Mount) Metrics() *telemetry.MountMetrics { return m.metrics }

// Frames returns the mount's compressed-frame ring buffer.
func (m *Mount) Frames() *FrameBuffer { return m.frames }

// CanAddListener checks if a new listener can be added.
func (m *Mount) CanAddListener() bool {
	count := atomic.LoadInt32(&m.listenerCount)
	cfg := m.GetConfig()
	return int(count) < cfg.MaxListeners
}

// AddListener adds a new listener.
func (m *Mount) AddListener(l *Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	m.listeners[l.ID] = l
	atomic.AddInt32(&m.listenerCount, 1)
	m.updatePeakUnique()
	m.metrics.RecordListenerConnect()
}

// updatePeakUnique updates the peak unique-listener count. Must be called
// with listenerMu held.
func (m *Mount) updatePeakUnique() {
	unique := make(map[string]struct{})
	for _, l := range m.listeners {
		unique[l.IP+"|"+l.UserAgent] = struct{}{}
	}
	uniqueCount := int32(len(unique))

	for {
		peak := atomic.LoadInt32(&m.peakUniqueListeners)
		if uniqueCount <= peak {
			break
		}
		if atomic.CompareAndSwapInt32(&m.peakUniqueListeners, peak, uniqueCount) {
			break
		}
	}
}

// RemoveListener removes a listener by reference.
func (m *Mount) RemoveListener(l *Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	if _, exists := m.listeners[l.ID]; exists {
		l.Close()
		delete(m.listeners, l.ID)
		atomic.AddInt32(&m.listenerCount, -1)
		m.metrics.RecordListenerDisconnect()
	}
}

// RemoveListenerByID removes a listener by ID string (for the admin API).
func (m *Mount) RemoveListenerByID(id string) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	if l, exists := m.listeners[id]; exists {
		l.Close()
		delete(m.listeners, id)
		atomic.AddInt32(&m.listenerCount, -1)
		m.metrics.RecordListenerDisconnect()
	}
}

// GetListener returns a listener by ID.
func (m *Mount) GetListener(id string) *Listener {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	return m.listeners[id]
}

// ListenerCount returns the current number of listeners.
func (m *Mount) ListenerCount() int {
	return int(atomic.LoadInt32(&m.listenerCount))
}

// PeakListeners returns the peak unique listener count.
func (m *Mount) PeakListeners() int {
	return int(atomic.LoadInt32(&m.peakUniqueListeners))
}

// GetListeners returns a copy of all listeners.
func (m *Mount) GetListeners() []*Listener {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()

	result := make([]*Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		result = append(result, l)
	}
	return result
}

// TotalBytesSent returns the total bytes sent to all current listeners.
func (m *Mount) TotalBytesSent() int64 {
	m.listenerMu.RLock()
	listeners := make([]*Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenerMu.RUnlock()

	var total int64
	for _, l := range listeners {
		total += atomic.LoadInt64(&l.BytesSent)
	}
	return total
}

// MountStats contains mount point statistics exposed through the admin API.
type MountStats struct {
	Path             string
	Active           bool
	SourceIP         string
	StartTime        time.Time
	FramesReceived   int64
	BytesSent        int64
	Listeners        int
	TotalConnections int
	PeakListeners    int
	QualityID        int
	FPS              float64
	ByteRate         uint64
	Metrics          telemetry.MetricsSnapshot
}

// Stats returns mount statistics, including the telemetry snapshot exposed
// through the admin status endpoint alongside the plain counters above.
func (m *Mount) Stats() MountStats {
	bytesSent := m.TotalBytesSent()
	totalConns := m.ListenerCount()
	peakListeners := m.PeakListeners()
	isActive := m.sourceActive.Load()
	ctl := m.encoder.Controller()

	m.mu.RLock()
	stats := MountStats{
		Path:             m.Path,
		Active:           isActive,
		SourceIP:         m.sourceIP,
		StartTime:        m.startTime,
		FramesReceived:   atomic.LoadInt64(&m.framesReceived),
		BytesSent:        bytesSent,
		Listeners:        totalConns,
		TotalConnections: totalConns,
		PeakListeners:    peakListeners,
		QualityID:        ctl.QualityID(),
		FPS:              float64(ctl.FPS()),
		ByteRate:         ctl.ByteRate(),
		Metrics:          m.metrics.Snapshot(),
	}
	m.mu.RUnlock()

	return stats
}
