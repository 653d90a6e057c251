// Package config loads and manages the agent configuration. Loading goes
// through Viper (YAML file plus SENTINELWATCH_ environment overrides);
// runtime updates go through Manager, which validates a candidate set and
// swaps it in atomically so collectors pick it up on their next cycle
// without a restart.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the agent. Tags are used by
// Viper to map YAML keys to struct fields and by the validator.
type Config struct {
	LogLevel      string        `mapstructure:"log_level" json:"log_level"`
	APIPort       string        `mapstructure:"api_port" json:"api_port"`
	AlertLogPath  string        `mapstructure:"alert_log_path" json:"alert_log_path"`
	HistoryLimit  int           `mapstructure:"history_limit" json:"history_limit" validate:"gt=0"`
	Monitoring    Monitoring    `mapstructure:"monitoring" json:"monitoring"`
	Process       ProcessConfig `mapstructure:"process" json:"process"`
	Network       NetworkConfig `mapstructure:"network" json:"network"`
	File          FileConfig    `mapstructure:"file" json:"file"`
	Engine        EngineConfig  `mapstructure:"engine" json:"engine"`
	Intel         IntelConfig   `mapstructure:"intel" json:"intel"`
	NATSServerURL string        `mapstructure:"nats_server_url" json:"nats_server_url"`
}

// Monitoring controls the collector schedules.
type Monitoring struct {
	Interval         string `mapstructure:"interval" json:"interval" validate:"required"`
	MonitorProcesses bool   `mapstructure:"monitor_processes" json:"monitor_processes"`
	MonitorNetwork   bool   `mapstructure:"monitor_network" json:"monitor_network"`
	MonitorFiles     bool   `mapstructure:"monitor_files" json:"monitor_files"`
}

// ProcessConfig holds thresholds and lists for the process collector.
type ProcessConfig struct {
	CPUThreshold       float64  `mapstructure:"cpu_threshold" json:"cpu_threshold" validate:"gt=0,lte=100"`
	MemoryThresholdMB  float64  `mapstructure:"memory_threshold_mb" json:"memory_threshold_mb" validate:"gt=0"`
	WhitelistProcesses []string `mapstructure:"whitelist_processes" json:"whitelist_processes"`
	SuspiciousKeywords []string `mapstructure:"suspicious_keywords" json:"suspicious_keywords"`
}

// NetworkConfig holds port lists and flood settings for the network collector.
type NetworkConfig struct {
	MonitoredPorts     []int  `mapstructure:"monitored_ports" json:"monitored_ports"`
	SuspiciousPorts    []int  `mapstructure:"suspicious_ports" json:"suspicious_ports"`
	FloodWindow        string `mapstructure:"flood_window" json:"flood_window"`
	FloodThreshold     int    `mapstructure:"flood_threshold" json:"flood_threshold" validate:"gt=0"`
	EgressHighWaterMiB int64  `mapstructure:"egress_high_water_mib" json:"egress_high_water_mib" validate:"gt=0"`
}

// FileConfig holds the watch set for the file collector.
type FileConfig struct {
	MonitoredDirs       []string `mapstructure:"monitored_dirs" json:"monitored_dirs"`
	CriticalDirs        []string `mapstructure:"critical_dirs" json:"critical_dirs"`
	SensitiveExtensions []string `mapstructure:"sensitive_extensions" json:"sensitive_extensions"`
}

// EngineConfig controls the anomaly scorer and its retrain schedule.
type EngineConfig struct {
	ModelsPath      string `mapstructure:"models_path" json:"models_path"`
	RetrainInterval string `mapstructure:"retrain_interval" json:"retrain_interval"`
	MinSamples      int    `mapstructure:"min_samples" json:"min_samples" validate:"gt=0"`
	SampleBuffer    int    `mapstructure:"sample_buffer" json:"sample_buffer" validate:"gt=0"`
}

// IntelConfig configures the reputation correlator and its cache.
type IntelConfig struct {
	ProviderURL   string `mapstructure:"provider_url" json:"provider_url"`
	APIKey        string `mapstructure:"api_key" json:"api_key"`
	CacheTTL      string `mapstructure:"cache_ttl" json:"cache_ttl"`
	CacheSize     int    `mapstructure:"cache_size" json:"cache_size" validate:"gt=0"`
	LookupTimeout string `mapstructure:"lookup_timeout" json:"lookup_timeout"`
}

// Default returns the built-in configuration used when no file is present
// or a persisted file is malformed.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		APIPort:      "8080",
		AlertLogPath: "logs/alerts.log",
		HistoryLimit: 1000,
		Monitoring: Monitoring{
			Interval:         "30s",
			MonitorProcesses: true,
			MonitorNetwork:   true,
			MonitorFiles:     false,
		},
		Process: ProcessConfig{
			CPUThreshold:      80.0,
			MemoryThresholdMB: 500.0,
			WhitelistProcesses: []string{
				"systemd", "bash", "sshd", "kthreadd",
			},
			SuspiciousKeywords: []string{
				"keylogger", "rootkit", "backdoor", "trojan", "malware",
				"cryptominer", "coinminer", "nc.exe", "netcat", "ncat",
				"powershell -enc", "/tmp/",
			},
		},
		Network: NetworkConfig{
			MonitoredPorts:     []int{22, 3389, 5900, 80, 443},
			SuspiciousPorts:    []int{4444, 5555, 6666, 1234, 31337, 6667, 6668, 6669},
			FloodWindow:        "5m",
			FloodThreshold:     50,
			EgressHighWaterMiB: 1024,
		},
		File: FileConfig{
			MonitoredDirs: nil,
			CriticalDirs: []string{
				"/etc/", "/bin/", "/sbin/", "/usr/bin/", "/usr/sbin/",
			},
			SensitiveExtensions: []string{
				".exe", ".dll", ".sys", ".bat", ".cmd", ".ps1",
				".sh", ".conf", ".cfg", ".ini",
			},
		},
		Engine: EngineConfig{
			ModelsPath:      "models",
			RetrainInterval: "1h",
			MinSamples:      50,
			SampleBuffer:    1000,
		},
		Intel: IntelConfig{
			CacheTTL:      "1h",
			CacheSize:     4096,
			LookupTimeout: "10s",
		},
	}
}

// Load reads configuration from config.yaml (current directory or
// /etc/sentinelwatch/) and the environment. A missing file is not an error;
// a malformed one falls back to defaults so the agent always starts.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sentinelwatch/")

	setDefaults(v)

	v.SetEnvPrefix("SENTINELWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Default(), fmt.Errorf("failed to read config file, using defaults: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("failed to unmarshal config, using defaults: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return Default(), fmt.Errorf("invalid config, using defaults: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("api_port", def.APIPort)
	v.SetDefault("alert_log_path", def.AlertLogPath)
	v.SetDefault("history_limit", def.HistoryLimit)
	v.SetDefault("monitoring.interval", def.Monitoring.Interval)
	v.SetDefault("monitoring.monitor_processes", def.Monitoring.MonitorProcesses)
	v.SetDefault("monitoring.monitor_network", def.Monitoring.MonitorNetwork)
	v.SetDefault("monitoring.monitor_files", def.Monitoring.MonitorFiles)
	v.SetDefault("process.cpu_threshold", def.Process.CPUThreshold)
	v.SetDefault("process.memory_threshold_mb", def.Process.MemoryThresholdMB)
	v.SetDefault("process.whitelist_processes", def.Process.WhitelistProcesses)
	v.SetDefault("process.suspicious_keywords", def.Process.SuspiciousKeywords)
	v.SetDefault("network.monitored_ports", def.Network.MonitoredPorts)
	v.SetDefault("network.suspicious_ports", def.Network.SuspiciousPorts)
	v.SetDefault("network.flood_window", def.Network.FloodWindow)
	v.SetDefault("network.flood_threshold", def.Network.FloodThreshold)
	v.SetDefault("network.egress_high_water_mib", def.Network.EgressHighWaterMiB)
	v.SetDefault("file.critical_dirs", def.File.CriticalDirs)
	v.SetDefault("file.sensitive_extensions", def.File.SensitiveExtensions)
	v.SetDefault("engine.models_path", def.Engine.ModelsPath)
	v.SetDefault("engine.retrain_interval", def.Engine.RetrainInterval)
	v.SetDefault("engine.min_samples", def.Engine.MinSamples)
	v.SetDefault("engine.sample_buffer", def.Engine.SampleBuffer)
	v.SetDefault("intel.cache_ttl", def.Intel.CacheTTL)
	v.SetDefault("intel.cache_size", def.Intel.CacheSize)
	v.SetDefault("intel.lookup_timeout", def.Intel.LookupTimeout)
}

var validate = validator.New()

// Validate checks a candidate configuration against the struct constraints.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}
