package testsupport

import (
	"path/filepath"
	"testing"

	"caster/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It binds the ingest server to an ephemeral port and applies any provided
// options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "casterd.sock")
	cfgVal.Paths.IngestBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithNtfyTopic points notifications at the given endpoint with every
// category enabled.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
		b.cfg.Notifications.Received = true
		b.cfg.Notifications.Completed = true
		b.cfg.Notifications.Errors = true
	}
}

// WithWorkflowTiming tightens worker poll and heartbeat intervals so tests
// settle quickly.
func WithWorkflowTiming(pollSeconds, heartbeatSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.QueuePollInterval = pollSeconds
		b.cfg.Workflow.HeartbeatInterval = heartbeatSeconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
