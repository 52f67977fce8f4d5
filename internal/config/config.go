package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, socket, and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
	IngestBind string `toml:"ingest_bind"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Capture contains configuration for local screen/microphone capture.
type Capture struct {
	SegmentIntervalMS int    `toml:"segment_interval_ms"`
	FFmpegBinary      string `toml:"ffmpeg_binary"`
	Display           string `toml:"display"`
	MicrophoneDevice  string `toml:"microphone_device"`
}

// Transport contains configuration for the client channel to the ingest daemon.
type Transport struct {
	IngestURL                string `toml:"ingest_url"`
	DialTimeoutSeconds       int    `toml:"dial_timeout_seconds"`
	IdleHeartbeatSeconds     int    `toml:"idle_heartbeat_seconds"`
	ActiveHeartbeatSeconds   int    `toml:"active_heartbeat_seconds"`
	MissedHeartbeatThreshold int    `toml:"missed_heartbeat_threshold"`
	ReconnectAttempts        int    `toml:"reconnect_attempts"`
	ReconnectCapSeconds      int    `toml:"reconnect_cap_seconds"`
	CleanupAckSeconds        int    `toml:"cleanup_ack_seconds"`
}

// Session identifies this client to the ingest daemon.
type Session struct {
	UserID      string `toml:"user_id"`
	WorkspaceID string `toml:"workspace_id"`
}

// Transcriber contains configuration for the speech-to-text service.
type Transcriber struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM contains connection settings for the summarization model.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Received       bool   `toml:"received"`
	Completed      bool   `toml:"completed"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains configuration for worker timing and retry policy.
type Workflow struct {
	QueuePollInterval   int `toml:"queue_poll_interval"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	HeartbeatInterval   int `toml:"heartbeat_interval"`
	HeartbeatTimeout    int `toml:"heartbeat_timeout"`
	MaxAttempts         int `toml:"max_attempts"`
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
}

// Config is the top-level caster configuration.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Capture       Capture       `toml:"capture"`
	Transport     Transport     `toml:"transport"`
	Session       Session       `toml:"session"`
	Transcriber   Transcriber   `toml:"transcriber"`
	LLM           LLM           `toml:"llm"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/caster/config.toml")
}

// Load locates, parses, normalizes, and validates a configuration file. The
// returned bool reports whether a file existed at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		var err error
		candidate, err = DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
	} else {
		var err error
		candidate, err = expandPath(candidate)
		if err != nil {
			return "", false, err
		}
	}

	if _, err := os.Stat(candidate); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return candidate, true, nil
}

// WriteSample writes the embedded sample configuration to the given path.
// It refuses to overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the staging and log directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the recordings database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.LogDir, "recordings.db")
}

// DialTimeout returns the transport dial timeout as a duration.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Transport.DialTimeoutSeconds) * time.Second
}

// IdleHeartbeat returns the heartbeat cadence while no job is outstanding.
func (c *Config) IdleHeartbeat() time.Duration {
	return time.Duration(c.Transport.IdleHeartbeatSeconds) * time.Second
}

// ActiveHeartbeat returns the heartbeat cadence while a job is outstanding.
func (c *Config) ActiveHeartbeat() time.Duration {
	return time.Duration(c.Transport.ActiveHeartbeatSeconds) * time.Second
}

// SegmentInterval returns the capture segment emission interval.
func (c *Config) SegmentInterval() time.Duration {
	return time.Duration(c.Capture.SegmentIntervalMS) * time.Millisecond
}

// ExpandPath resolves ~ prefixes and relative segments to an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path must not be empty")
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if trimmed == "~" {
			trimmed = home
		} else {
			trimmed = filepath.Join(home, trimmed[2:])
		}
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", trimmed, err)
	}
	return abs, nil
}
