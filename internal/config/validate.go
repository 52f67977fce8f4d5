package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks cross-field constraints after normalization.
func (c *Config) Validate() error {
	var errs []error
	if err := c.validatePaths(); err != nil {
		errs = append(errs, err)
	}
	if err := c.validateTransport(); err != nil {
		errs = append(errs, err)
	}
	if err := c.validateWorkflow(); err != nil {
		errs = append(errs, err)
	}
	if err := c.validateLogging(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if bind := strings.TrimSpace(c.Paths.IngestBind); bind != "" {
		if _, _, err := net.SplitHostPort(bind); err != nil {
			return fmt.Errorf("paths.ingest_bind %q: %w", bind, err)
		}
	}
	return nil
}

func (c *Config) validateTransport() error {
	if c.Transport.IngestURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Transport.IngestURL)
	if err != nil {
		return fmt.Errorf("transport.ingest_url: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("transport.ingest_url: scheme must be ws or wss, got %q", parsed.Scheme)
	}
	if c.Transport.ActiveHeartbeatSeconds > c.Transport.IdleHeartbeatSeconds {
		return errors.New("transport.active_heartbeat_seconds must not exceed idle_heartbeat_seconds")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
}
