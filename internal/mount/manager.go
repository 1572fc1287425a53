package mount

import (
	"fmt"
	"sync"

	"github.com/gocast/mjpegrc/internal/config"
	"github.com/gocast/mjpegrc/internal/telemetry"
)

// Manager manages all mount points, adapted from gocast's stream.MountManager.
type Manager struct {
	mounts    map[string]*Mount
	mu        sync.RWMutex
	config    *config.Config
	maxMounts int
	logger    func(format string, v ...interface{})
}

// NewManager creates a new mount manager, pre-creating mounts from config.
func NewManager(cfg *config.Config) *Manager {
	mm := &Manager{
		mounts:    make(map[string]*Mount),
		config:    cfg,
		maxMounts: cfg.Limits.MaxSources,
		logger:    func(format string, v ...interface{}) {},
	}

	for path, mountCfg := range cfg.Mounts {
		mm.mounts[path] = NewMount(path, mountCfg)
	}

	return mm
}

// SetConfig updates the manager's configuration (for hot-reload support),
// creating/updating/removing mounts to match the new mount list.
func (mm *Manager) SetConfig(cfg *config.Config) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.config = cfg
	mm.maxMounts = cfg.Limits.MaxSources

	for path, mountCfg := range cfg.Mounts {
		if m, exists := mm.mounts[path]; exists {
			m.SetConfig(mountCfg)
			mm.logger("[HotReload] Updated mount %s config", path)
		} else {
			mm.mounts[path] = NewMount(path, mountCfg)
			mm.logger("[HotReload] Created new mount %s", path)
		}
	}

	for path, m := range mm.mounts {
		if _, exists := cfg.Mounts[path]; !exists {
			if !m.IsActive() && m.ListenerCount() == 0 {
				delete(mm.mounts, path)
				telemetry.GlobalRegistry.Remove(path)
			}
		}
	}
}

// SetLogger sets the logger function used for hot-reload diagnostics.
func (mm *Manager) SetLogger(logger func(format string, v ...interface{})) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.logger = logger
}

// GetMount returns a mount point by path.
func (mm *Manager) GetMount(path string) *Mount {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.mounts[path]
}

// GetOrCreateMount returns an existing mount or creates a new one from config.
func (mm *Manager) GetOrCreateMount(path string) (*Mount, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if m, exists := mm.mounts[path]; exists {
		return m, nil
	}

	if len(mm.mounts) >= mm.maxMounts {
		return nil, fmt.Errorf("maximum number of mounts (%d) reached", mm.maxMounts)
	}

	mountCfg := mm.config.GetMountConfig(path)
	m := NewMount(path, mountCfg)
	mm.mounts[path] = m

	return m, nil
}

// RemoveMount removes a mount point, closing any connected listeners and
// source.
func (mm *Manager) RemoveMount(path string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	m, exists := mm.mounts[path]
	if !exists {
		return ErrMountNotFound
	}

	for _, l := range m.GetListeners() {
		l.Close()
	}
	m.StopSource()

	delete(mm.mounts, path)
	telemetry.GlobalRegistry.Remove(path)
	return nil
}

// ListMounts returns all mount paths.
func (mm *Manager) ListMounts() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	paths := make([]string, 0, len(mm.mounts))
	for path := range mm.mounts {
		paths = append(paths, path)
	}
	return paths
}

// GetAllMounts returns all mounts.
func (mm *Manager) GetAllMounts() []*Mount {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	mounts := make([]*Mount, 0, len(mm.mounts))
	for _, m := range mm.mounts {
		mounts = append(mounts, m)
	}
	return mounts
}

// GetActiveMounts returns all mounts with a connected source.
func (mm *Manager) GetActiveMounts() []*Mount {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	mounts := make([]*Mount, 0)
	for _, m := range mm.mounts {
		if m.IsActive() {
			mounts = append(mounts, m)
		}
	}
	return mounts
}

// Stats returns statistics for all mounts.
func (mm *Manager) Stats() []MountStats {
	mm.mu.RLock()
	mounts := make([]*Mount, 0, len(mm.mounts))
	for _, m := range mm.mounts {
		mounts = append(mounts, m)
	}
	mm.mu.RUnlock()

	stats := make([]MountStats, 0, len(mounts))
	for _, m := range mounts {
		stats = append(stats, m.Stats())
	}
	return stats
}

// TotalListeners returns the total number of listeners across all mounts.
func (mm *Manager) TotalListeners() int {
	mm.mu.RLock()
	mounts := make([]*Mount, 0, len(mm.mounts))
	for _, m := range mm.mounts {
		mounts = append(mounts, m)
	}
	mm.mu.RUnlock()

	total := 0
	for _, m := range mounts {
		total += m.ListenerCount()
	}
	return total
}

// TotalBytesSent returns the total bytes sent across all mounts.
func (mm *Manager) TotalBytesSent() int64 {
	mm.mu.RLock()
	mounts := make([]*Mount, 0, len(mm.mounts))
	for _, m := range mm.mounts {
		mounts = append(mounts, m)
	}
	mm.mu.RUnlock()

	var total int64
	for _, m := range mounts {
		total += m.TotalBytesSent()
	}
	return total
}
