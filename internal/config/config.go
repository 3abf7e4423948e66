// Package config loads the health agent's configuration from the process
// environment, an optional .env file, and an optional static override file.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultWorkdir is used when HEALTHAGENT_DIR is unset.
const DefaultWorkdir = "/opt/healthagent"

// Config is the agent's resolved runtime configuration.
type Config struct {
	// Workdir is the agent's working directory; Rundir and SocketPath are
	// derived from it.
	Workdir    string
	Rundir     string
	SocketPath string

	// DebugMode enables the self-observation periodics (memory profile, RSS
	// monitors).
	DebugMode bool

	// PublishExternal disables the external-notifier subprocess when false.
	PublishExternal bool

	// DCGMStandalone selects the standalone DCGM host-engine (true) over the
	// embedded library (false).
	DCGMStandalone bool

	// NotifierPath is the path to the external "condition set" notifier
	// binary. Empty means no notifier was found on PATH.
	NotifierPath string

	// Systemd is the allowlist of services the systemd monitor watches.
	Systemd SystemdOverrides

	// Network carries the network monitor's sliding-window parameters.
	Network NetworkOverrides

	// Backup carries the persistence backup exporter's settings. Disabled
	// when Bucket is empty.
	Backup BackupOverrides
}

// SystemdOverrides configures the systemd monitor (C6).
type SystemdOverrides struct {
	Services []string `yaml:"services"`
}

// NetworkOverrides configures the network monitor (C8). Both fields are
// explicit per the Open Question in spec.md §9: a different sampling
// interval changes the meaning of "events per hour".
type NetworkOverrides struct {
	WindowSamples   int           `yaml:"window_samples"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	FlapWarnPerHour int           `yaml:"flap_warn_per_hour"`
}

// BackupOverrides configures the S3-compatible persistence backup exporter
// (A5). Zero value disables it.
type BackupOverrides struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	ScheduleCron string `yaml:"schedule_cron"`
}

func defaultConfig() *Config {
	return &Config{
		Workdir:         DefaultWorkdir,
		PublishExternal: true,
		Systemd: SystemdOverrides{
			Services: []string{"docker.service", "kubelet.service", "sshd.service"},
		},
		Network: NetworkOverrides{
			WindowSamples:   60,
			SampleInterval:  60 * time.Second,
			FlapWarnPerHour: 1,
		},
		Backup: BackupOverrides{
			ScheduleCron: "0 30 3 * * *",
		},
	}
}

// Load resolves configuration from (in increasing precedence): built-in
// defaults, a ".env" file in the current directory (if present), the process
// environment, an optional YAML override file, and finally dataDirFlag
// (which always wins over HEALTHAGENT_DIR when non-empty).
func Load(dataDirFlag string) (*Config, error) {
	// godotenv.Load is a no-op (non-fatal) when .env does not exist; it only
	// sets variables that are not already present in the environment.
	_ = godotenv.Load()

	cfg := defaultConfig()

	if dir := os.Getenv("HEALTHAGENT_DIR"); dir != "" {
		cfg.Workdir = dir
	}
	if dataDirFlag != "" {
		cfg.Workdir = dataDirFlag
	}

	cfg.DebugMode = os.Getenv("DEBUG_MODE") == "1"
	cfg.PublishExternal = os.Getenv("PUBLISH_CC") != "false"
	cfg.DCGMStandalone = os.Getenv("DCGM_TEST_MODE") == "true"

	if bucket := os.Getenv("BackupBucket"); bucket != "" {
		cfg.Backup.Bucket = bucket
	}
	if prefix := os.Getenv("BackupPrefix"); prefix != "" {
		cfg.Backup.Prefix = prefix
	}
	if sched := os.Getenv("BackupScheduleCron"); sched != "" {
		cfg.Backup.ScheduleCron = sched
	}

	overridePath := os.Getenv("AGENT_CONFIG_FILE")
	if overridePath == "" {
		overridePath = filepath.Join(cfg.Workdir, "agent.yaml")
	}
	if err := applyYAMLOverride(cfg, overridePath); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.Rundir = filepath.Join(cfg.Workdir, "run")
	cfg.SocketPath = filepath.Join(cfg.Rundir, "health.sock")

	cfg.NotifierPath = locateNotifier()

	return cfg, nil
}

// applyYAMLOverride decodes an optional YAML file into cfg's override
// sub-structs. A missing file is not an error; a malformed one is.
func applyYAMLOverride(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config override %s: %w", path, err)
	}

	var overrides struct {
		Systemd SystemdOverrides `yaml:"systemd"`
		Network NetworkOverrides `yaml:"network"`
		Backup  BackupOverrides  `yaml:"backup"`
	}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse config override %s: %w", path, err)
	}

	if len(overrides.Systemd.Services) > 0 {
		cfg.Systemd.Services = overrides.Systemd.Services
	}
	if overrides.Network.WindowSamples > 0 {
		cfg.Network.WindowSamples = overrides.Network.WindowSamples
	}
	if overrides.Network.SampleInterval > 0 {
		cfg.Network.SampleInterval = overrides.Network.SampleInterval
	}
	if overrides.Network.FlapWarnPerHour > 0 {
		cfg.Network.FlapWarnPerHour = overrides.Network.FlapWarnPerHour
	}
	if overrides.Backup.Bucket != "" {
		cfg.Backup.Bucket = overrides.Backup.Bucket
	}
	if overrides.Backup.Prefix != "" {
		cfg.Backup.Prefix = overrides.Backup.Prefix
	}
	if overrides.Backup.ScheduleCron != "" {
		cfg.Backup.ScheduleCron = overrides.Backup.ScheduleCron
	}

	return nil
}

// validate checks that Workdir exists and is writable, per spec.md §4.4.
func (c *Config) validate() error {
	info, err := os.Stat(c.Workdir)
	if err != nil {
		return fmt.Errorf("workdir %s is not accessible: %w", c.Workdir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workdir %s is not a directory", c.Workdir)
	}

	probe := filepath.Join(c.Workdir, ".write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("workdir %s is not writable: %w", c.Workdir, err)
	}
	f.Close()
	os.Remove(probe)

	return nil
}

// locateNotifier looks for the external "condition set" notifier binary on
// PATH. Its absence is tolerated (spec.md §4.3): the Reporter simply disables
// publish_external.
func locateNotifier() string {
	if override := os.Getenv("HEALTHAGENT_NOTIFIER"); override != "" {
		return override
	}
	for _, name := range []string{"healthnotifier", "condition-notifier"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
