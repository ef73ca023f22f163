package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Paths        PathsConfig        `mapstructure:"paths"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	Strm         StrmConfig         `mapstructure:"strm"`
	Torznab      TorznabConfig      `mapstructure:"torznab"`
	Sonarr       SonarrConfig       `mapstructure:"sonarr"`
	Resolver     ResolverConfig     `mapstructure:"resolver"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// PublicURL is the externally reachable base URL of this instance.
	// Used when building signed STRM proxy URLs. Defaults to
	// http://<host>:<port> when empty.
	PublicURL string `mapstructure:"public_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// PathsConfig holds filesystem layout configuration.
type PathsConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	DownloadDir string `mapstructure:"download_dir"`
}

// CatalogConfig selects and tunes the catalogue sites.
type CatalogConfig struct {
	// Sites lists enabled catalogue sites in resolver priority order.
	Sites []string `mapstructure:"sites"`
	// IndexRefreshHours is the age after which a title index is rebuilt.
	IndexRefreshHours int `mapstructure:"index_refresh_hours"`
	// SnapshotDir optionally overrides remote index pages with local HTML
	// snapshots named <site>.html.
	SnapshotDir string `mapstructure:"snapshot_dir"`
}

// ProvidersConfig holds provider extraction configuration.
type ProvidersConfig struct {
	// Order is the provider priority list used for probing and downloads.
	Order []string `mapstructure:"order"`
}

// SchedulerConfig holds worker pool and retention configuration.
type SchedulerConfig struct {
	MaxConcurrency      int           `mapstructure:"max_concurrency"`
	DownloadsTTLHours   int           `mapstructure:"downloads_ttl_hours"`
	CleanupScanInterval time.Duration `mapstructure:"cleanup_scan_interval"`
	IPCheckEnabled      bool          `mapstructure:"ip_check_enabled"`
}

// AvailabilityConfig holds probe cache configuration.
type AvailabilityConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// StrmConfig holds .strm generation and proxy configuration.
type StrmConfig struct {
	// FilesMode selects which release variants Torznab emits:
	// "no" (media only), "both", or "only" (.strm only).
	FilesMode string `mapstructure:"files_mode"`
	// ProxyMode selects what URL a .strm file carries:
	// "direct" (upstream URL), "proxy" (bridge URL), or "redirect".
	ProxyMode string `mapstructure:"proxy_mode"`
	// ProxyAuth is one of "none", "apikey", "token".
	ProxyAuth string `mapstructure:"proxy_auth"`
	// ProxySecret is the HMAC key for token auth and URL signing.
	ProxySecret string `mapstructure:"proxy_secret"`
	// TokenTTL is the validity window of signed URLs.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	// HlsRemux pipes HLS through ffmpeg into fMP4 instead of proxying.
	HlsRemux bool `mapstructure:"hls_remux"`
	// ChunkSize is the streaming copy buffer size in bytes.
	ChunkSize int `mapstructure:"chunk_size"`
	// UpstreamTimeout bounds connection setup and header wait on each
	// upstream request; body copies run as long as playback needs.
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	// MappingTTL bounds the in-memory resolved-URL cache.
	MappingTTL time.Duration `mapstructure:"mapping_ttl"`
}

// TorznabConfig holds indexer façade configuration.
type TorznabConfig struct {
	APIKey string `mapstructure:"api_key"`
	// TestItem controls whether an empty q=search returns a synthetic
	// connectivity-test release.
	TestItem bool `mapstructure:"test_item"`
	// MaxEpisodes caps season-search episode discovery.
	MaxEpisodes int `mapstructure:"max_episodes"`
	// MaxConsecutiveMisses stops sequential probing after this many
	// consecutive unavailable episodes.
	MaxConsecutiveMisses int `mapstructure:"max_consecutive_misses"`
	// FallbackAllEpisodes lists the whole catalogue in canonical numbering
	// when absolute-number mapping is ambiguous.
	FallbackAllEpisodes bool `mapstructure:"fallback_all_episodes"`
}

// SonarrConfig holds the external metadata service configuration.
type SonarrConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// ResolverConfig holds title matching tunables.
type ResolverConfig struct {
	// MinScore is the confidence floor a candidate must clear.
	MinScore float64 `mapstructure:"min_score"`
	// DebugScores logs per-candidate scores at debug level.
	DebugScores bool `mapstructure:"debug_scores"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.anibridge")
	}

	v.SetEnvPrefix("ANIBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8788)
	v.SetDefault("server.public_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("paths.data_dir", "./data")
	v.SetDefault("paths.download_dir", "./downloads")

	v.SetDefault("catalog.sites", []string{"aniworld.to", "s.to", "megakino"})
	v.SetDefault("catalog.index_refresh_hours", 24)
	v.SetDefault("catalog.snapshot_dir", "")

	v.SetDefault("providers.order", []string{"VOE", "Filemoon", "Vidoza", "Streamtape", "Doodstream", "LoadX"})

	v.SetDefault("scheduler.max_concurrency", 3)
	v.SetDefault("scheduler.downloads_ttl_hours", 0)
	v.SetDefault("scheduler.cleanup_scan_interval", 15*time.Minute)
	v.SetDefault("scheduler.ip_check_enabled", false)

	v.SetDefault("availability.ttl", 24*time.Hour)
	v.SetDefault("availability.probe_timeout", 45*time.Second)

	v.SetDefault("strm.files_mode", "no")
	v.SetDefault("strm.proxy_mode", "direct")
	v.SetDefault("strm.proxy_auth", "token")
	v.SetDefault("strm.proxy_secret", "")
	v.SetDefault("strm.token_ttl", 15*time.Minute)
	v.SetDefault("strm.hls_remux", false)
	v.SetDefault("strm.chunk_size", 64*1024)
	v.SetDefault("strm.upstream_timeout", 30*time.Second)
	v.SetDefault("strm.mapping_ttl", 6*time.Hour)

	v.SetDefault("torznab.api_key", "")
	v.SetDefault("torznab.test_item", true)
	v.SetDefault("torznab.max_episodes", 400)
	v.SetDefault("torznab.max_consecutive_misses", 3)
	v.SetDefault("torznab.fallback_all_episodes", false)

	v.SetDefault("sonarr.url", "")
	v.SetDefault("sonarr.api_key", "")

	v.SetDefault("resolver.min_score", 3.5)
	v.SetDefault("resolver.debug_scores", false)
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the externally visible base URL without trailing slash.
func (c *ServerConfig) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	host := c.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// DatabasePath returns the sqlite file location under DataDir.
func (c *PathsConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "anibridge.db")
}

// LogDir returns the log directory under DataDir.
func (c *PathsConfig) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}
