// Package server handles HTTP server and listener connections
// Robust, high-performance streaming with automatic recovery
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocast/mjpegrc/internal/config"
	"github.com/gocast/mjpegrc/internal/mount"
)

// Version of mjpegrc server
var Version = "dev"

// =============================================================================
// STREAMING CONSTANTS - Defaults that can be overridden by config
// =============================================================================
const (
	// sourceReconnectWait: How long listeners wait for source to reconnect
	sourceReconnectWait = 30 * time.Second

	// defaultClientTimeout: Fallback if not in config
	defaultClientTimeout = 120 * time.Second

	// frameWaitTimeout: how long a listener's read loop blocks waiting for
	// the next encoded frame before re-checking disconnect/source state
	frameWaitTimeout = 1 * time.Second

	// maxLagFrames: maximum number of frames a listener may fall behind
	// the live edge before it's skipped forward to the latest frame.
	// The ring only retains ringSize frames, so lag can't exceed that
	// anyway, but this keeps a slow listener from replaying a long queue
	// of stale frames after a stall.
	maxLagFrames = 8

	// mjpegBoundary is the multipart boundary token used to separate
	// frames in the HTTP response body.
	mjpegBoundary = "mjpegrcFrameBoundary"
)

// botUserAgents contains patterns for known bots/preview fetchers
var botUserAgents = []string{
	"WhatsApp",
	"facebookexternalhit",
	"Facebot",
	"Twitterbot",
	"LinkedInBot",
	"Slackbot",
	"TelegramBot",
	"Discordbot",
	"Googlebot",
	"bingbot",
	"YandexBot",
	"DuckDuckBot",
	"Baiduspider",
	"curl",
	"wget",
	"python-requests",
	"Go-http-client",
	"Apache-HttpClient",
	"Java/",
	"okhttp",
}

// isBotUserAgent checks if the user agent belongs to a known bot/preview fetcher
func isBotUserAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, bot := range botUserAgents {
		if strings.Contains(ua, strings.ToLower(bot)) {
			return true
		}
	}
	return false
}

// ListenerHandler handles listener HTTP requests
type ListenerHandler struct {
	mountManager   *mount.Manager
	config         *config.Config
	logger         *log.Logger
	activityBuffer *ActivityBuffer
	mu             sync.RWMutex
}

// NewListenerHandler creates a new listener handler
func NewListenerHandler(mm *mount.Manager, cfg *config.Config, logger *log.Logger) *ListenerHandler {
	return NewListenerHandlerWithActivity(mm, cfg, logger, nil)
}

// NewListenerHandlerWithActivity creates a new listener handler with activity tracking
func NewListenerHandlerWithActivity(mm *mount.Manager, cfg *config.Config, logger *log.Logger, activityBuffer *ActivityBuffer) *ListenerHandler {
	return &ListenerHandler{
		mountManager:   mm,
		config:         cfg,
		logger:         logger,
		activityBuffer: activityBuffer,
	}
}

// SetConfig updates the handler's configuration (for hot-reload support)
func (h *ListenerHandler) SetConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = cfg
}

// getConfig returns the current config with proper locking
func (h *ListenerHandler) getConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// ServeHTTP handles incoming listener requests
func (h *ListenerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mountPath := r.URL.Path
	if mountPath == "" {
		mountPath = "/"
	}

	clientIP := getClientIP(r)
	userAgent := r.UserAgent()

	m := h.mountManager.GetMount(mountPath)
	if m == nil {
		http.Error(w, "Mount not found", http.StatusNotFound)
		return
	}

	if r.Method == http.MethodHead {
		h.HandleHead(w, r, m)
		return
	}

	isBot := isBotUserAgent(userAgent)

	if !isBot && !m.CanAddListener() {
		http.Error(w, "Listener limit reached", http.StatusServiceUnavailable)
		return
	}

	if !h.checkIPAllowed(r, m) {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	listener := mount.NewListenerWithBot(clientIP, userAgent, isBot)
	m.AddListener(listener)
	connectTime := time.Now()

	if h.activityBuffer != nil {
		h.activityBuffer.ListenerConnected(mountPath, clientIP, r.UserAgent())
	}

	defer func() {
		m.RemoveListener(listener)
		if h.activityBuffer != nil {
			h.activityBuffer.ListenerDisconnected(mountPath, clientIP, time.Since(connectTime))
		}
	}()

	h.logger.Printf("Listener %s connected from %s (User-Agent: %s)", listener.ID, clientIP, userAgent)

	h.setHeaders(w)

	flusher, hasFlusher := w.(http.Flusher)
	if hasFlusher {
		flusher.Flush()
	}

	h.streamToClient(r.Context(), w, flusher, hasFlusher, listener, m)
}

// HandleHead handles HEAD requests - returns headers without creating a listener
func (h *ListenerHandler) HandleHead(w http.ResponseWriter, r *http.Request, m *mount.Mount) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Server", "mjpegrc/"+Version)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, X-Requested-With, Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.WriteHeader(http.StatusOK)
}

// setHeaders sets HTTP response headers for a multipart MJPEG stream
func (h *ListenerHandler) setHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Server", "mjpegrc/"+Version)
	w.Header().Set("X-Content-Type-Options", "nosniff")

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, X-Requested-With, Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")

	w.WriteHeader(http.StatusOK)
}

// streamToClient pumps encoded frames from the mount's FrameBuffer to a
// listener as a multipart/x-mixed-replace MJPEG stream.
// BULLETPROOF: Uses the FrameBuffer's sync.Cond wakeup instead of polling.
func (h *ListenerHandler) streamToClient(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, hasFlusher bool, listener *mount.Listener, m *mount.Mount) {
	frames := m.Frames()
	if frames == nil {
		return
	}

	startTime := time.Now()
	sw := NewStreamWriter(w)
	defer sw.Close()
	sw.Flush()

	if !m.IsActive() {
		if !h.waitForSource(ctx, m, listener) {
			return
		}
	}

	seq, ok := frames.Latest()
	var nextSeq uint64
	if ok {
		nextSeq = seq.SeqNum
	} else {
		nextSeq = frames.HeadSeq()
	}

	var sourceDisconnectTime time.Time
	sourceWasActive := true

	for {
		select {
		case <-ctx.Done():
			h.logger.Printf("INFO: Listener %s disconnected (context cancelled) after %v (sent: %d bytes)",
				listener.ID, time.Since(startTime).Round(time.Second), listener.BytesSent)
			return
		case <-listener.Done():
			h.logger.Printf("INFO: Listener %s disconnected (client closed) after %v (sent: %d bytes)",
				listener.ID, time.Since(startTime).Round(time.Second), listener.BytesSent)
			return
		default:
		}

		sourceActive := m.IsActive()
		if !sourceActive && sourceWasActive {
			sourceDisconnectTime = time.Now()
			sourceWasActive = false
		} else if sourceActive && !sourceWasActive {
			sourceWasActive = true
		}
		if !sourceActive && time.Since(sourceDisconnectTime) > sourceReconnectWait {
			h.logger.Printf("INFO: Listener %s disconnected (source timeout) after %v (sent: %d bytes)",
				listener.ID, time.Since(startTime).Round(time.Second), listener.BytesSent)
			return
		}

		if head := frames.HeadSeq(); head > nextSeq && head-nextSeq > maxLagFrames {
			skipped := head - nextSeq - 1
			nextSeq = head - 1
			h.logger.Printf("INFO: Listener %s fell behind by %d frames, skipping to live edge", listener.ID, skipped)
		}

		frame, ok := frames.WaitForNext(nextSeq, frameWaitTimeout)
		if !ok {
			continue
		}

		if err := writeMJPEGFrame(sw, frame.Data); err != nil {
			h.logger.Printf("INFO: Listener %s disconnected after %v (sent: %d bytes, frames: %d)",
				listener.ID, time.Since(startTime).Round(time.Second), listener.BytesSent, listener.FramesSent)
			return
		}

		listener.BytesSent += int64(len(frame.Data))
		listener.FramesSent++
		m.Metrics().RecordBytesSent(len(frame.Data))
		listener.LastSeq = frame.SeqNum
		listener.LastActive = time.Now()
		nextSeq = frame.SeqNum + 1

		if hasFlusher {
			flusher.Flush()
		}
	}
}

// writeMJPEGFrame writes one multipart part: boundary line, part headers,
// the JPEG payload, and the trailing CRLF the next boundary expects.
func writeMJPEGFrame(sw *StreamWriter, jpeg []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg))
	if _, err := sw.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := sw.Write(jpeg); err != nil {
		return err
	}
	_, err := sw.Write([]byte("\r\n"))
	return err
}

// waitForSource waits for a source to connect, returns false if we should give up
func (h *ListenerHandler) waitForSource(ctx context.Context, m *mount.Mount, listener *mount.Listener) bool {
	waitStart := time.Now()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for !m.IsActive() {
		if time.Since(waitStart) > sourceReconnectWait {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-listener.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

// checkIPAllowed checks if the client IP is allowed
func (h *ListenerHandler) checkIPAllowed(r *http.Request, m *mount.Mount) bool {
	cfg := m.GetConfig()
	if cfg == nil || len(cfg.AllowedIPs) == 0 {
		return true
	}

	clientIP := getClientIP(r)
	for _, pattern := range cfg.AllowedIPs {
		if matchIP(clientIP, pattern) {
			return true
		}
	}
	return false
}

// matchIP checks if an IP matches a pattern
func matchIP(clientIP, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(clientIP, prefix)
	}
	return clientIP == pattern
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// HandleOptions handles CORS preflight requests
func (h *ListenerHandler) HandleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, X-Requested-With, Content-Type")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// ========== Status Handler ==========

// StatusHandler handles status page requests
type StatusHandler struct {
	mountManager *mount.Manager
	config       *config.Config
	startTime    time.Time
	version      string
	mu           sync.RWMutex
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(mm *mount.Manager, cfg *config.Config) *StatusHandler {
	return &StatusHandler{mountManager: mm, config: cfg, startTime: time.Now(), version: "1.0.0"}
}

// NewStatusHandlerWithInfo creates a new status handler with server info
func NewStatusHandlerWithInfo(mm *mount.Manager, cfg *config.Config, startTime time.Time, version string) *StatusHandler {
	return &StatusHandler{mountManager: mm, config: cfg, startTime: startTime, version: version}
}

// SetConfig updates the handler's configuration (for hot-reload support)
func (h *StatusHandler) SetConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = cfg
}

// getConfig returns the current config with proper locking
func (h *StatusHandler) getConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// ServeHTTP serves the status page
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	accept := r.Header.Get("Accept")

	switch {
	case format == "json" || strings.Contains(accept, "application/json"):
		h.serveJSON(w)
	case format == "xml" || strings.Contains(accept, "text/xml") || strings.Contains(accept, "application/xml"):
		h.serveXML(w)
	default:
		h.serveHTML(w)
	}
}

func (h *StatusHandler) serveJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	cfg := h.getConfig()
	mounts := h.mountManager.ListMounts()
	var sb strings.Builder

	uptime := int64(time.Since(h.startTime).Seconds())
	serverID := cfg.Server.ServerID
	if serverID == "" {
		serverID = "mjpegrc"
	}

	totalBytesSent := h.mountManager.TotalBytesSent()
	startedStr := h.startTime.Format(time.RFC3339)

	sb.WriteString(`{"server_id":"`)
	sb.WriteString(escapeJSON(serverID))
	sb.WriteString(`","version":"`)
	sb.WriteString(escapeJSON(h.version))
	sb.WriteString(`","started":"`)
	sb.WriteString(startedStr)
	sb.WriteString(`","uptime":`)
	sb.WriteString(strconv.FormatInt(uptime, 10))
	sb.WriteString(`,"total_bytes_sent":`)
	sb.WriteString(strconv.FormatInt(totalBytesSent, 10))
	sb.WriteString(`,"server":{"id":"`)
	sb.WriteString(escapeJSON(serverID))
	sb.WriteString(`","version":"`)
	sb.WriteString(escapeJSON(h.version))
	sb.WriteString(`","uptime":`)
	sb.WriteString(strconv.FormatInt(uptime, 10))
	sb.WriteString(`,"total_bytes_sent":`)
	sb.WriteString(strconv.FormatInt(totalBytesSent, 10))
	sb.WriteString(`},"mounts":[`)

	first := true
	for _, mountPath := range mounts {
		m := h.mountManager.GetMount(mountPath)
		if m == nil {
			continue
		}
		stats := m.Stats()
		if !first {
			sb.WriteString(",")
		}
		first = false

		sb.WriteString(`{"path":"`)
		sb.WriteString(escapeJSON(stats.Path))
		sb.WriteString(`","active":`)
		if stats.Active {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
		sb.WriteString(`,"listeners":`)
		sb.WriteString(strconv.Itoa(stats.Listeners))
		sb.WriteString(`,"peak":`)
		sb.WriteString(strconv.Itoa(stats.PeakListeners))
		sb.WriteString(`,"bytes_sent":`)
		sb.WriteString(strconv.FormatInt(stats.BytesSent, 10))
		sb.WriteString(`,"quality_id":`)
		sb.WriteString(strconv.Itoa(stats.QualityID))
		sb.WriteString(`,"fps":`)
		sb.WriteString(strconv.FormatFloat(stats.FPS, 'f', 2, 64))
		sb.WriteString(`,"byte_rate":`)
		sb.WriteString(strconv.FormatUint(stats.ByteRate, 10))
		sb.WriteString(`,"content_type":"multipart/x-mixed-replace"`)
		sb.WriteString(`}`)
	}

	sb.WriteString(`]}`)
	w.Write([]byte(sb.String()))
}

func (h *StatusHandler) serveXML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	cfg := h.getConfig()
	mounts := h.mountManager.ListMounts()
	var sb strings.Builder

	uptime := int64(time.Since(h.startTime).Seconds())
	serverID := cfg.Server.ServerID
	if serverID == "" {
		serverID = "mjpegrc"
	}

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<mjpegrcstats><server_id>`)
	sb.WriteString(escapeXML(serverID))
	sb.WriteString(`</server_id><uptime>`)
	sb.WriteString(strconv.FormatInt(uptime, 10))
	sb.WriteString(`</uptime>`)

	for _, mountPath := range mounts {
		m := h.mountManager.GetMount(mountPath)
		if m == nil {
			continue
		}
		stats := m.Stats()
		sb.WriteString(`<source mount="`)
		sb.WriteString(escapeXML(stats.Path))
		sb.WriteString(`"><listeners>`)
		sb.WriteString(strconv.Itoa(stats.Listeners))
		sb.WriteString(`</listeners></source>`)
	}

	sb.WriteString(`</mjpegrcstats>`)
	w.Write([]byte(sb.String()))
}

func (h *StatusHandler) serveHTML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	cfg := h.getConfig()
	mounts := h.mountManager.ListMounts()
	var sb strings.Builder

	serverID := cfg.Server.ServerID
	if serverID == "" {
		serverID = "mjpegrc"
	}

	sb.WriteString(`<!DOCTYPE html><html><head><title>`)
	sb.WriteString(serverID)
	sb.WriteString(`</title></head><body><h1>`)
	sb.WriteString(serverID)
	sb.WriteString(`</h1><h2>Mounts</h2><ul>`)

	for _, mountPath := range mounts {
		m := h.mountManager.GetMount(mountPath)
		if m == nil {
			continue
		}
		stats := m.Stats()
		sb.WriteString(`<li><a href="`)
		sb.WriteString(stats.Path)
		sb.WriteString(`">`)
		sb.WriteString(stats.Path)
		sb.WriteString(`</a> - `)
		sb.WriteString(strconv.Itoa(stats.Listeners))
		sb.WriteString(` listeners</li>`)
	}

	sb.WriteString(`</ul></body></html>`)
	w.Write([]byte(sb.String()))
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}
