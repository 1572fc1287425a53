// Package source handles source client connections: the screen-capture
// agent that pushes raw frames into a mount point.
package source

import (
	"encoding/base64"
	"encoding/binary"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocast/mjpegrc/internal/config"
	"github.com/gocast/mjpegrc/internal/mount"
	"github.com/gocast/mjpegrc/internal/ratectl"
)

// Wire framing for one source-delivered frame: a 12-byte header followed
// by the raw scanline payload. Adapted from gocast's Icecast SOURCE/PUT
// handler, which hijacks the connection and reads a length-implicit byte
// stream; frames here need explicit boundaries and a media timestamp
// instead, since the rate-control core's admission gate keys off it.
//
//	offset 0:  uint64 frameMMTimeMS (big endian)
//	offset 8:  uint32 payloadLen    (big endian)
//	offset 12: payload              (payloadLen bytes, raw scanlines)
const frameHeaderSize = 12

// sourceTCPBufferSize sizes the OS socket buffers for a source connection;
// large enough to smooth over one full raw frame at common resolutions.
const sourceTCPBufferSize = 1 << 20 // 1MB

// Handler handles source client connections.
type Handler struct {
	mounts *mount.Manager
	config *config.Config
	logger *log.Logger
	mu     sync.RWMutex
}

// NewHandler creates a new source handler.
func NewHandler(mm *mount.Manager, cfg *config.Config, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{mounts: mm, config: cfg, logger: logger}
}

// SetConfig updates the handler's configuration (for hot-reload support).
func (h *Handler) SetConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = cfg
	h.logger.Println("Source handler configuration updated")
}

func (h *Handler) getConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// HandleSource handles an incoming source connection via HTTP PUT,
// hijacking it to stream raw frames after an immediate 200 OK -- the same
// hijack-then-read idiom gocast uses for Icecast SOURCE/PUT clients.
func (h *Handler) HandleSource(w http.ResponseWriter, r *http.Request) {
	mountPath := r.URL.Path
	if mountPath == "" {
		mountPath = "/"
	}

	h.logger.Printf("Source connection attempt: %s from %s", mountPath, r.RemoteAddr)

	if !h.authenticate(r) {
		h.logger.Printf("Source authentication failed for %s from %s", mountPath, r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Basic realm="mjpegrc Source"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	m, err := h.mounts.GetOrCreateMount(mountPath)
	if err != nil {
		h.logger.Printf("Failed to create mount %s: %v", mountPath, err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	if m.IsActive() {
		h.logger.Printf("Source already connected to %s", mountPath)
		http.Error(w, "Source already connected", http.StatusConflict)
		return
	}

	clientIP := getClientIP(r)
	if err := m.StartSource(clientIP); err != nil {
		h.logger.Printf("Failed to start source for %s: %v", mountPath, err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	h.logger.Printf("Source connected: %s from %s", mountPath, clientIP)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		h.logger.Printf("Hijacking not supported for %s", mountPath)
		m.StopSource()
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		h.logger.Printf("Failed to hijack connection for %s: %v", mountPath, err)
		m.StopSource()
		http.Error(w, "Streaming error", http.StatusInternalServerError)
		return
	}
	defer conn.Close()

	optimizeTCPConnection(conn)

	bufrw.WriteString("HTTP/1.0 200 OK\r\n")
	bufrw.WriteString("\r\n")
	bufrw.Flush()

	h.streamFrames(conn, m, mountPath)

	m.StopSource()
	h.logger.Printf("Source disconnected: %s", mountPath)
}

// streamFrames reads length-framed scanline payloads off conn and pumps
// them into the mount until the connection errors out or the mount is
// stopped from elsewhere.
func (h *Handler) streamFrames(conn net.Conn, m *mount.Mount, mountPath string) {
	header := make([]byte, frameHeaderSize)
	var frameCount, droppedCount int64

	for m.IsActive() {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				h.logger.Printf("Error reading frame header from %s: %v", mountPath, err)
			}
			break
		}

		frameMMTimeMS := binary.BigEndian.Uint64(header[0:8])
		payloadLen := binary.BigEndian.Uint32(header[8:12])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(conn, payload); err != nil {
			h.logger.Printf("Error reading frame payload from %s: %v", mountPath, err)
			break
		}

		if err := m.WriteScanline(payload); err != nil {
			h.logger.Printf("Error decoding frame from %s: %v", mountPath, err)
			continue
		}

		admitted, err := m.CompleteFrame(ratectl.MMTime(frameMMTimeMS))
		if err != nil {
			h.logger.Printf("Error encoding frame from %s: %v", mountPath, err)
			continue
		}
		frameCount++
		if !admitted {
			droppedCount++
		}
		if frameCount%300 == 0 {
			h.logger.Printf("Source %s: %d frames received, %d dropped by the admission gate",
				mountPath, frameCount, droppedCount)
		}
	}

	h.logger.Printf("Source %s ended: %d frames received, %d dropped", mountPath, frameCount, droppedCount)
}

// authenticate checks source credentials.
func (h *Handler) authenticate(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		iceUser := r.Header.Get("ice-username")
		icePass := r.Header.Get("ice-password")
		if icePass != "" {
			return h.checkCredentials(iceUser, icePass, r.URL.Path)
		}
		return false
	}

	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(auth[6:])
	if err != nil {
		return false
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return false
	}

	return h.checkCredentials(parts[0], parts[1], r.URL.Path)
}

// checkCredentials verifies username and password against the mount's
// password or the global source password.
func (h *Handler) checkCredentials(username, password, mountPath string) bool {
	cfg := h.getConfig()

	if mnt, exists := cfg.Mounts[mountPath]; exists {
		if mnt.Password != "" && password == mnt.Password {
			return true
		}
	}

	if username == "" || username == "source" {
		return password == cfg.Auth.SourcePassword
	}

	if username == cfg.Auth.AdminUser {
		return password == cfg.Auth.AdminPassword
	}

	return false
}

// optimizeTCPConnection applies TCP optimizations for streaming
// connections: low latency for frame delivery and dead-connection
// detection via keep-alive.
func optimizeTCPConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
		tcpConn.SetReadBuffer(sourceTCPBufferSize)
		tcpConn.SetWriteBuffer(sourceTCPBufferSize)
	}
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// KeepAlive periodically checks whether a mount's source is still active,
// for callers that want to tear down auxiliary state once it disconnects.
func KeepAlive(m *mount.Mount, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !m.IsActive() {
				return
			}
		}
	}
}
