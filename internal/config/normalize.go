package config

import (
	"fmt"
	"os/user"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeTransport()
	c.normalizeSession()
	c.normalizeServices()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"staging_dir", &c.Paths.StagingDir},
		{"log_dir", &c.Paths.LogDir},
		{"socket_path", &c.Paths.SocketPath},
	}
	for _, field := range fields {
		expanded, err := expandPath(*field.value)
		if err != nil {
			return fmt.Errorf("normalize %s: %w", field.name, err)
		}
		*field.value = expanded
	}
	c.Paths.IngestBind = strings.TrimSpace(c.Paths.IngestBind)
	return nil
}

func (c *Config) normalizeCapture() {
	if c.Capture.SegmentIntervalMS <= 0 {
		c.Capture.SegmentIntervalMS = defaultSegmentIntervalMS
	}
	if strings.TrimSpace(c.Capture.FFmpegBinary) == "" {
		c.Capture.FFmpegBinary = defaultFFmpegBinary
	}
}

func (c *Config) normalizeTransport() {
	t := &c.Transport
	t.IngestURL = strings.TrimSpace(t.IngestURL)
	if t.DialTimeoutSeconds <= 0 {
		t.DialTimeoutSeconds = defaultDialTimeoutSeconds
	}
	if t.IdleHeartbeatSeconds <= 0 {
		t.IdleHeartbeatSeconds = defaultIdleHeartbeatSeconds
	}
	if t.ActiveHeartbeatSeconds <= 0 {
		t.ActiveHeartbeatSeconds = defaultActiveHeartbeatSeconds
	}
	if t.MissedHeartbeatThreshold <= 0 {
		t.MissedHeartbeatThreshold = defaultMissedHeartbeatThreshold
	}
	if t.ReconnectAttempts <= 0 {
		t.ReconnectAttempts = defaultReconnectAttempts
	}
	if t.ReconnectCapSeconds <= 0 {
		t.ReconnectCapSeconds = defaultReconnectCapSeconds
	}
	if t.CleanupAckSeconds <= 0 {
		t.CleanupAckSeconds = defaultCleanupAckSeconds
	}
}

func (c *Config) normalizeSession() {
	c.Session.UserID = strings.TrimSpace(c.Session.UserID)
	c.Session.WorkspaceID = strings.TrimSpace(c.Session.WorkspaceID)
	if c.Session.UserID == "" {
		if current, err := user.Current(); err == nil {
			c.Session.UserID = current.Username
		} else {
			c.Session.UserID = "local"
		}
	}
	if c.Session.WorkspaceID == "" {
		c.Session.WorkspaceID = defaultWorkspaceID
	}
}

func (c *Config) normalizeServices() {
	c.Transcriber.APIKey = strings.TrimSpace(c.Transcriber.APIKey)
	c.Transcriber.BaseURL = strings.TrimSpace(c.Transcriber.BaseURL)
	c.Transcriber.Model = strings.TrimSpace(c.Transcriber.Model)
	if c.Transcriber.BaseURL == "" {
		c.Transcriber.BaseURL = defaultTranscriberBaseURL
	}
	if c.Transcriber.Model == "" {
		c.Transcriber.Model = defaultTranscriberModel
	}
	if c.Transcriber.TimeoutSeconds <= 0 {
		c.Transcriber.TimeoutSeconds = defaultTranscriberTimeoutSeconds
	}

	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	w := &c.Workflow
	if w.QueuePollInterval <= 0 {
		w.QueuePollInterval = defaultQueuePollInterval
	}
	if w.ErrorRetryInterval <= 0 {
		w.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if w.HeartbeatInterval <= 0 {
		w.HeartbeatInterval = defaultHeartbeatInterval
	}
	if w.HeartbeatTimeout <= 0 {
		w.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = defaultMaxAttempts
	}
	if w.RetryBackoffSeconds <= 0 {
		w.RetryBackoffSeconds = defaultRetryBackoffSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}
