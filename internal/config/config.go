// Package config handles mjpegrc configuration loading and management
package config

import (
	"fmt"
	"time"

	"github.com/gocast/mjpegrc/pkg/vibe"
)

// Config represents the complete mjpegrc server configuration
type Config struct {
	Server    ServerConfig
	SSL       SSLConfig
	Limits    LimitsConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	Mounts    map[string]*MountConfig
	Admin     AdminConfig
	Directory DirectoryConfig
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Hostname      string
	ListenAddress string
	Port          int
	AdminRoot     string
	Location      string
	ServerID      string
}

// SSLConfig contains TLS settings, including the AutoSSL (Let's Encrypt
// DNS-01) flow adapted from gocast's AutoSSLManager.
type SSLConfig struct {
	Enabled         bool
	CertPath        string
	KeyPath         string
	Port            int
	AutoSSL         bool
	AutoSSLEmail    string
	DNSProvider     string
	CloudflareToken string
	CacheDir        string
}

// LimitsConfig contains resource limits
type LimitsConfig struct {
	MaxClients           int
	MaxSources           int
	MaxListenersPerMount int
	QueueSize            int
	ClientTimeout        time.Duration
	HeaderTimeout        time.Duration
	SourceTimeout        time.Duration
	BurstSize            int
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	SourcePassword string
	RelayPassword  string
	AdminUser      string
	AdminPassword  string
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	AccessLog string
	ErrorLog  string
	LogLevel  string
	LogSize   int
}

// MountConfig contains per-mount settings. Unlike gocast's audio MountConfig
// (Genre/Bitrate/StreamName/Type:"audio/mpeg") this negotiates the decoded
// frame geometry and the ratectl starting point for new sources.
type MountConfig struct {
	Name                string
	Password            string
	MaxListeners        int
	FallbackMount       string
	Description         string
	URL                 string
	Public              bool
	Hidden              bool
	AllowedIPs          []string
	DeniedIPs           []string
	MaxListenerDuration time.Duration

	// Width/Height are the negotiated output frame geometry; source frames
	// of a different size are scaled to it by internal/videoenc (the aspect
	// ratio is not preserved).
	Width  int
	Height int

	// SourcePixelFormat names the raw scanline layout the producer sends
	// (bgrx32, bgr24, rgb565) -- see internal/codec.PixelFormat.
	SourcePixelFormat string

	// SourceFPS is the producer's nominal capture rate, reported to the
	// rate-control core through ratectl.Callbacks.GetSourceFPS. It does not
	// set the starting fps: the controller always starts at 5 fps.
	SourceFPS int

	// StartingBitRateBps seeds ratectl.New's initial byte rate estimate
	// before any client feedback narrows it.
	StartingBitRateBps uint64

	// OverlayText, when true, stamps each frame with its quality id/fps/
	// byte rate via internal/videoenc.Overlay -- useful for diagnosing a
	// mount's rate-control behavior from the delivered stream itself.
	OverlayText bool
}

// AdminConfig contains admin interface settings
type AdminConfig struct {
	Enabled  bool
	User     string
	Password string
}

// DirectoryConfig contains directory/YP settings
type DirectoryConfig struct {
	Enabled  bool
	YPURLs   []string
	Interval time.Duration
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname:      "localhost",
			ListenAddress: "0.0.0.0",
			Port:          8000,
			AdminRoot:     "/admin",
			Location:      "Earth",
			ServerID:      "mjpegrc",
		},
		SSL: SSLConfig{
			Enabled: false,
			Port:    8443,
			AutoSSL: false,
		},
		Limits: LimitsConfig{
			MaxClients:           100,
			MaxSources:           10,
			MaxListenersPerMount: 100,
			QueueSize:            262144, // 256KB (reduced for lower latency)
			ClientTimeout:        30 * time.Second,
			HeaderTimeout:        15 * time.Second,
			SourceTimeout:        10 * time.Second,
			BurstSize:            16384, // 16KB (reduced for faster start)
		},
		Auth: AuthConfig{
			SourcePassword: "hackme",
			RelayPassword:  "",
			AdminUser:      "admin",
			AdminPassword:  "hackme",
		},
		Logging: LoggingConfig{
			AccessLog: "/var/log/mjpegrc/access.log",
			ErrorLog:  "/var/log/mjpegrc/error.log",
			LogLevel:  "info",
			LogSize:   10000,
		},
		Mounts: make(map[string]*MountConfig),
		Admin: AdminConfig{
			Enabled:  true,
			User:     "admin",
			Password: "hackme",
		},
		Directory: DirectoryConfig{
			Enabled:  false,
			YPURLs:   []string{},
			Interval: 10 * time.Minute,
		},
	}
}

// Load loads configuration from a VIBE file
func Load(filename string) (*Config, error) {
	v, err := vibe.ParseFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := DefaultConfig()

	// Server configuration
	if server := v.GetObject("server"); server != nil {
		cfg.Server.Hostname = v.GetStringDefault("server.hostname", cfg.Server.Hostname)
		cfg.Server.ListenAddress = v.GetStringDefault("server.listen", cfg.Server.ListenAddress)
		cfg.Server.Port = int(v.GetIntDefault("server.port", int64(cfg.Server.Port)))
		cfg.Server.AdminRoot = v.GetStringDefault("server.admin_root", cfg.Server.AdminRoot)
		cfg.Server.Location = v.GetStringDefault("server.location", cfg.Server.Location)
		cfg.Server.ServerID = v.GetStringDefault("server.server_id", cfg.Server.ServerID)
	}

	// SSL/AutoSSL configuration
	if ssl := v.GetObject("ssl"); ssl != nil {
		cfg.SSL.Enabled = v.GetBoolDefault("ssl.enabled", cfg.SSL.Enabled)
		cfg.SSL.CertPath = v.GetStringDefault("ssl.cert", cfg.SSL.CertPath)
		cfg.SSL.KeyPath = v.GetStringDefault("ssl.key", cfg.SSL.KeyPath)
		cfg.SSL.Port = int(v.GetIntDefault("ssl.port", int64(cfg.SSL.Port)))
		cfg.SSL.AutoSSL = v.GetBoolDefault("ssl.auto_ssl", cfg.SSL.AutoSSL)
		cfg.SSL.AutoSSLEmail = v.GetStringDefault("ssl.auto_ssl_email", cfg.SSL.AutoSSLEmail)
		cfg.SSL.DNSProvider = v.GetStringDefault("ssl.dns_provider", cfg.SSL.DNSProvider)
		cfg.SSL.CloudflareToken = v.GetStringDefault("ssl.cloudflare_token", cfg.SSL.CloudflareToken)
		cfg.SSL.CacheDir = v.GetStringDefault("ssl.cache_dir", cfg.SSL.CacheDir)
	}

	// Limits configuration
	if limits := v.GetObject("limits"); limits != nil {
		cfg.Limits.MaxClients = int(v.GetIntDefault("limits.max_clients", int64(cfg.Limits.MaxClients)))
		cfg.Limits.MaxSources = int(v.GetIntDefault("limits.max_sources", int64(cfg.Limits.MaxSources)))
		cfg.Limits.MaxListenersPerMount = int(v.GetIntDefault("limits.max_listeners_per_mount", int64(cfg.Limits.MaxListenersPerMount)))
		cfg.Limits.QueueSize = int(v.GetIntDefault("limits.queue_size", int64(cfg.Limits.QueueSize)))
		cfg.Limits.BurstSize = int(v.GetIntDefault("limits.burst_size", int64(cfg.Limits.BurstSize)))

		if timeout := v.GetInt("limits.client_timeout"); timeout > 0 {
			cfg.Limits.ClientTimeout = time.Duration(timeout) * time.Second
		}
		if timeout := v.GetInt("limits.header_timeout"); timeout > 0 {
			cfg.Limits.HeaderTimeout = time.Duration(timeout) * time.Second
		}
		if timeout := v.GetInt("limits.source_timeout"); timeout > 0 {
			cfg.Limits.SourceTimeout = time.Duration(timeout) * time.Second
		}
	}

	// Auth configuration
	if auth := v.GetObject("auth"); auth != nil {
		cfg.Auth.SourcePassword = v.GetStringDefault("auth.source_password", cfg.Auth.SourcePassword)
		cfg.Auth.RelayPassword = v.GetStringDefault("auth.relay_password", cfg.Auth.RelayPassword)
		cfg.Auth.AdminUser = v.GetStringDefault("auth.admin_user", cfg.Auth.AdminUser)
		cfg.Auth.AdminPassword = v.GetStringDefault("auth.admin_password", cfg.Auth.AdminPassword)
	}

	// Logging configuration
	if logging := v.GetObject("logging"); logging != nil {
		cfg.Logging.AccessLog = v.GetStringDefault("logging.access_log", cfg.Logging.AccessLog)
		cfg.Logging.ErrorLog = v.GetStringDefault("logging.error_log", cfg.Logging.ErrorLog)
		cfg.Logging.LogLevel = v.GetStringDefault("logging.level", cfg.Logging.LogLevel)
		cfg.Logging.LogSize = int(v.GetIntDefault("logging.log_size", int64(cfg.Logging.LogSize)))
	}

	// Mount configurations
	if mounts := v.GetObject("mounts"); mounts != nil {
		for _, key := range mounts.Keys {
			mountPath := "mounts." + key
			mountValue := v.GetObject(mountPath)
			if mountValue == nil {
				continue
			}

			mountName := "/" + key
			if key[0] == '/' {
				mountName = key
			}

			mount := &MountConfig{
				Name:               mountName,
				Password:           v.GetStringDefault(mountPath+".password", cfg.Auth.SourcePassword),
				MaxListeners:       int(v.GetIntDefault(mountPath+".max_listeners", int64(cfg.Limits.MaxListenersPerMount))),
				FallbackMount:      v.GetStringDefault(mountPath+".fallback", ""),
				Description:        v.GetStringDefault(mountPath+".description", ""),
				URL:                v.GetStringDefault(mountPath+".url", ""),
				Public:             v.GetBoolDefault(mountPath+".public", true),
				Hidden:             v.GetBoolDefault(mountPath+".hidden", false),
				AllowedIPs:         v.GetStringArray(mountPath + ".allowed_ips"),
				DeniedIPs:          v.GetStringArray(mountPath + ".denied_ips"),
				Width:              int(v.GetIntDefault(mountPath+".width", 640)),
				Height:             int(v.GetIntDefault(mountPath+".height", 480)),
				SourcePixelFormat:  v.GetStringDefault(mountPath+".source_format", "bgrx32"),
				SourceFPS:          int(v.GetIntDefault(mountPath+".source_fps", 25)),
				StartingBitRateBps: uint64(v.GetIntDefault(mountPath+".starting_bit_rate", 2_000_000)),
				OverlayText:        v.GetBoolDefault(mountPath+".overlay_text", false),
			}

			if duration := v.GetInt(mountPath + ".max_listener_duration"); duration > 0 {
				mount.MaxListenerDuration = time.Duration(duration) * time.Second
			}

			cfg.Mounts[mountName] = mount
		}
	}

	// Admin configuration
	if admin := v.GetObject("admin"); admin != nil {
		cfg.Admin.Enabled = v.GetBoolDefault("admin.enabled", cfg.Admin.Enabled)
		cfg.Admin.User = v.GetStringDefault("admin.user", cfg.Admin.User)
		cfg.Admin.Password = v.GetStringDefault("admin.password", cfg.Admin.Password)
	}

	// Directory/YP configuration
	if directory := v.GetObject("directory"); directory != nil {
		cfg.Directory.Enabled = v.GetBoolDefault("directory.enabled", cfg.Directory.Enabled)
		cfg.Directory.YPURLs = v.GetStringArray("directory.yp_urls")
		if interval := v.GetInt("directory.interval"); interval > 0 {
			cfg.Directory.Interval = time.Duration(interval) * time.Second
		}
	}

	return cfg, nil
}

// GetMountConfig returns the configuration for a specific mount
// If no specific configuration exists, returns a default configuration
func (c *Config) GetMountConfig(mountPath string) *MountConfig {
	if mount, exists := c.Mounts[mountPath]; exists {
		return mount
	}

	// Return a default mount config
	return &MountConfig{
		Name:               mountPath,
		Password:           c.Auth.SourcePassword,
		MaxListeners:       c.Limits.MaxListenersPerMount,
		Public:             true,
		Width:              640,
		Height:             480,
		SourcePixelFormat:  "bgrx32",
		SourceFPS:          25,
		StartingBitRateBps: 2_000_000,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.SSL.Enabled && !c.SSL.AutoSSL {
		if c.SSL.CertPath == "" {
			return fmt.Errorf("SSL enabled but no certificate path specified")
		}
		if c.SSL.KeyPath == "" {
			return fmt.Errorf("SSL enabled but no key path specified")
		}
	}

	if c.Limits.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive")
	}

	if c.Limits.MaxSources <= 0 {
		return fmt.Errorf("max_sources must be positive")
	}

	for path, mount := range c.Mounts {
		if mount.Width <= 0 || mount.Height <= 0 {
			return fmt.Errorf("mount %s: width/height must be positive", path)
		}
		if mount.SourceFPS <= 0 {
			return fmt.Errorf("mount %s: source_fps must be positive", path)
		}
	}

	return nil
}
