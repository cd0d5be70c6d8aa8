package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the sentinel server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	SDN         SDNConfig         `yaml:"sdn"`
	Detection   DetectionConfig   `yaml:"detection"`
	Healing     HealingConfig     `yaml:"healing"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Notify      NotifyConfig      `yaml:"notify"`
	Redis       RedisConfig       `yaml:"redis"`
	Capture     CaptureConfig     `yaml:"capture"`
	RateTracker RateTrackerConfig `yaml:"rate_tracker"`
}

// ServerConfig holds the HTTP API listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SDNConfig points at the Ryu ofctl_rest API.
type SDNConfig struct {
	URL            string  `yaml:"url"`
	DatapathID     int     `yaml:"dpid"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// DetectionConfig tunes the malicious/benign classifier.
type DetectionConfig struct {
	WindowSeconds             float64  `yaml:"window_seconds"`
	FallbackPPSThreshold      float64  `yaml:"fallback_pps_threshold"`
	ScorerConfidenceThreshold float64  `yaml:"scorer_confidence_threshold"`
	ScorerURL                 string   `yaml:"scorer_url"`
	ScorerInputWidth          int      `yaml:"scorer_input_width"`
	ForceMaliciousIPs         []string `yaml:"force_malicious_ips"`
}

// HealingConfig holds the slice isolation and restoration policy.
type HealingConfig struct {
	IsolationThreshold      float64 `yaml:"isolation_threshold"`
	RestorationDelaySeconds float64 `yaml:"restoration_delay_seconds"`
	MaxIsolationSeconds     float64 `yaml:"max_isolation_seconds"`
	ThreatDecayRate         float64 `yaml:"threat_decay_rate"`
	MonitorIntervalSeconds  float64 `yaml:"monitor_interval_seconds"`
	PartialSweepSeconds     float64 `yaml:"partial_sweep_seconds"`
	PatternLogLimit         int     `yaml:"pattern_log_limit"`
}

// TelemetryConfig controls live packet delivery to the dashboard.
type TelemetryConfig struct {
	MinIntervalSeconds float64 `yaml:"min_interval_seconds"`
	SinkURL            string  `yaml:"sink_url"`
	TimeoutSeconds     float64 `yaml:"timeout_seconds"`
}

// NotifyConfig controls blocked-IP notifications.
type NotifyConfig struct {
	HTTPURL        string  `yaml:"http_url"`
	NATSURL        string  `yaml:"nats_url"`
	NATSSubject    string  `yaml:"nats_subject"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// RedisConfig holds the audit store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// CaptureConfig selects the packet source. Mode is live, offline or
// synthetic; when empty it follows from PcapFile and Interface.
type CaptureConfig struct {
	Mode          string `yaml:"mode"`
	SyntheticRate int    `yaml:"synthetic_rate"`
	Interface     string `yaml:"interface"`
	BPFFilter     string `yaml:"bpf_filter"`
	PcapFile      string `yaml:"pcap_file"`
	SnapLen       int32  `yaml:"snap_len"`
}

// RateTrackerConfig controls idle window eviction.
type RateTrackerConfig struct {
	IdleEvictSeconds float64 `yaml:"idle_evict_seconds"`
}

const (
	CaptureLive      = "live"
	CaptureOffline   = "offline"
	CaptureSynthetic = "synthetic"
)

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8888"},
		SDN: SDNConfig{
			URL:            "http://127.0.0.1:8080",
			DatapathID:     1,
			TimeoutSeconds: 3,
		},
		Detection: DetectionConfig{
			WindowSeconds:             1.0,
			FallbackPPSThreshold:      50,
			ScorerConfidenceThreshold: 0.7,
			ScorerInputWidth:          9,
		},
		Healing: HealingConfig{
			IsolationThreshold:      3,
			RestorationDelaySeconds: 300,
			MaxIsolationSeconds:     1800,
			ThreatDecayRate:         0.1,
			MonitorIntervalSeconds:  10,
			PartialSweepSeconds:     60,
			PatternLogLimit:         1000,
		},
		Telemetry: TelemetryConfig{
			MinIntervalSeconds: 0.1,
			TimeoutSeconds:     0.1,
		},
		Notify: NotifyConfig{
			NATSSubject:    "sentinel.blocked",
			TimeoutSeconds: 1,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Capture: CaptureConfig{
			SyntheticRate: 20,
			BPFFilter:     "ip",
			SnapLen:       1600,
		},
		RateTracker: RateTrackerConfig{IdleEvictSeconds: 60},
	}
}

// Load reads a YAML config file and fills unset values with defaults.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		normalize(&cfg)
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.SDN.URL == "" {
		cfg.SDN.URL = def.SDN.URL
	}
	if cfg.SDN.DatapathID <= 0 {
		cfg.SDN.DatapathID = def.SDN.DatapathID
	}
	positive(&cfg.SDN.TimeoutSeconds, def.SDN.TimeoutSeconds)
	positive(&cfg.Detection.WindowSeconds, def.Detection.WindowSeconds)
	positive(&cfg.Detection.FallbackPPSThreshold, def.Detection.FallbackPPSThreshold)
	positive(&cfg.Detection.ScorerConfidenceThreshold, def.Detection.ScorerConfidenceThreshold)
	if cfg.Detection.ScorerInputWidth <= 0 {
		cfg.Detection.ScorerInputWidth = def.Detection.ScorerInputWidth
	}
	positive(&cfg.Healing.IsolationThreshold, def.Healing.IsolationThreshold)
	positive(&cfg.Healing.RestorationDelaySeconds, def.Healing.RestorationDelaySeconds)
	positive(&cfg.Healing.MaxIsolationSeconds, def.Healing.MaxIsolationSeconds)
	if cfg.Healing.ThreatDecayRate <= 0 || cfg.Healing.ThreatDecayRate >= 1 {
		cfg.Healing.ThreatDecayRate = def.Healing.ThreatDecayRate
	}
	positive(&cfg.Healing.MonitorIntervalSeconds, def.Healing.MonitorIntervalSeconds)
	positive(&cfg.Healing.PartialSweepSeconds, def.Healing.PartialSweepSeconds)
	if cfg.Healing.PatternLogLimit <= 0 {
		cfg.Healing.PatternLogLimit = def.Healing.PatternLogLimit
	}
	positive(&cfg.Telemetry.MinIntervalSeconds, def.Telemetry.MinIntervalSeconds)
	positive(&cfg.Telemetry.TimeoutSeconds, def.Telemetry.TimeoutSeconds)
	positive(&cfg.Notify.TimeoutSeconds, def.Notify.TimeoutSeconds)
	if cfg.Notify.NATSSubject == "" {
		cfg.Notify.NATSSubject = def.Notify.NATSSubject
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = def.Redis.Addr
	}
	if cfg.Capture.SnapLen <= 0 {
		cfg.Capture.SnapLen = def.Capture.SnapLen
	}
	if cfg.Capture.SyntheticRate <= 0 {
		cfg.Capture.SyntheticRate = def.Capture.SyntheticRate
	}
	if cfg.Capture.Mode == "" {
		switch {
		case cfg.Capture.PcapFile != "":
			cfg.Capture.Mode = CaptureOffline
		case cfg.Capture.Interface != "":
			cfg.Capture.Mode = CaptureLive
		default:
			cfg.Capture.Mode = CaptureSynthetic
		}
	}
	positive(&cfg.RateTracker.IdleEvictSeconds, def.RateTracker.IdleEvictSeconds)
}

func positive(v *float64, fallback float64) {
	if *v <= 0 {
		*v = fallback
	}
}

// Seconds converts a fractional seconds value to a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
