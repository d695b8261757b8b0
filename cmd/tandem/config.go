package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all tandem server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	StorePath           string `json:"store_path"`
	LogLevel            string `json:"log_level"`
	MaxConcurrentTests  int    `json:"max_concurrent_tests"`
	TestTimeoutMs       int    `json:"test_timeout_ms"`
	DurationToleranceMs int    `json:"duration_tolerance_ms"`
	SchedulerEnabled    bool   `json:"scheduler_enabled"`
	SchedulerPoll       string `json:"scheduler_poll"`
	// External engine commands. Each reads a JSON request on stdin and
	// writes an ExecutionResult JSON on stdout. Empty disables suite runs.
	WorkflowRunnerCmd string `json:"workflow_runner_cmd"`
	JourneyRunnerCmd  string `json:"journey_runner_cmd"`
}

func defaultConfig() Config {
	return Config{
		StorePath:           filepath.Join(tandemDir(), "tandem.db"),
		LogLevel:            "info",
		MaxConcurrentTests:  4,
		TestTimeoutMs:       30_000,
		DurationToleranceMs: 1000,
		SchedulerEnabled:    true,
		SchedulerPoll:       "60s",
	}
}

func tandemDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tandem"
	}
	return filepath.Join(home, ".tandem")
}

func settingsPath() string {
	if p := os.Getenv("TANDEM_SETTINGS"); p != "" {
		return p
	}
	return "settings.json"
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("TANDEM_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("TANDEM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TANDEM_MAX_CONCURRENT_TESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentTests = n
		}
	}
	if v := os.Getenv("TANDEM_TEST_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TestTimeoutMs = n
		}
	}
	if v := os.Getenv("TANDEM_DURATION_TOLERANCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DurationToleranceMs = n
		}
	}
	if v := os.Getenv("TANDEM_SCHEDULER_ENABLED"); v != "" {
		cfg.SchedulerEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TANDEM_SCHEDULER_POLL"); v != "" {
		cfg.SchedulerPoll = v
	}
	if v := os.Getenv("TANDEM_WORKFLOW_RUNNER"); v != "" {
		cfg.WorkflowRunnerCmd = v
	}
	if v := os.Getenv("TANDEM_JOURNEY_RUNNER"); v != "" {
		cfg.JourneyRunnerCmd = v
	}

	return cfg
}

// pollInterval parses the scheduler poll spec, falling back to one minute.
func (c Config) pollInterval() time.Duration {
	d, err := time.ParseDuration(c.SchedulerPoll)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// configDiff lists the keys that differ from the built-in defaults, for
// startup logging.
func configDiff(cfg Config) []string {
	def := defaultConfig()
	var changed []string
	if cfg.StorePath != def.StorePath {
		changed = append(changed, "store_path")
	}
	if cfg.LogLevel != def.LogLevel {
		changed = append(changed, "log_level")
	}
	if cfg.MaxConcurrentTests != def.MaxConcurrentTests {
		changed = append(changed, "max_concurrent_tests")
	}
	if cfg.TestTimeoutMs != def.TestTimeoutMs {
		changed = append(changed, "test_timeout_ms")
	}
	if cfg.DurationToleranceMs != def.DurationToleranceMs {
		changed = append(changed, "duration_tolerance_ms")
	}
	if cfg.SchedulerEnabled != def.SchedulerEnabled {
		changed = append(changed, "scheduler_enabled")
	}
	if cfg.SchedulerPoll != def.SchedulerPoll {
		changed = append(changed, "scheduler_poll")
	}
	if cfg.WorkflowRunnerCmd != def.WorkflowRunnerCmd {
		changed = append(changed, "workflow_runner_cmd")
	}
	if cfg.JourneyRunnerCmd != def.JourneyRunnerCmd {
		changed = append(changed, "journey_runner_cmd")
	}
	return changed
}
