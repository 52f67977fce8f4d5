package config

const (
	defaultStagingDir = "~/.local/share/caster/staging"
	defaultLogDir     = "~/.local/share/caster/logs"
	defaultSocketPath = "~/.local/share/caster/casterd.sock"
	defaultIngestBind = "127.0.0.1:7823"

	defaultLogLevel  = "info"
	defaultLogFormat = "console"

	defaultSegmentIntervalMS = 1000
	defaultFFmpegBinary      = "ffmpeg"

	defaultIngestURL                = "ws://127.0.0.1:7823/ws"
	defaultDialTimeoutSeconds       = 30
	defaultIdleHeartbeatSeconds     = 30
	defaultActiveHeartbeatSeconds   = 10
	defaultMissedHeartbeatThreshold = 3
	defaultReconnectAttempts        = 5
	defaultReconnectCapSeconds      = 5
	defaultCleanupAckSeconds        = 5

	defaultWorkspaceID = "personal"

	defaultTranscriberBaseURL        = "https://api.openai.com/v1/audio/transcriptions"
	defaultTranscriberModel          = "whisper-1"
	defaultTranscriberTimeoutSeconds = 300

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "google/gemini-3-flash-preview"
	defaultLLMReferer        = "https://github.com/caster-app/caster"
	defaultLLMTitle          = "Caster Summarizer"
	defaultLLMTimeoutSeconds = 60

	defaultNotifyRequestTimeout = 10

	defaultQueuePollInterval   = 5
	defaultErrorRetryInterval  = 15
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultMaxAttempts         = 3
	defaultRetryBackoffSeconds = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			SocketPath: defaultSocketPath,
			IngestBind: defaultIngestBind,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Capture: Capture{
			SegmentIntervalMS: defaultSegmentIntervalMS,
			FFmpegBinary:      defaultFFmpegBinary,
		},
		Transport: Transport{
			IngestURL:                defaultIngestURL,
			DialTimeoutSeconds:       defaultDialTimeoutSeconds,
			IdleHeartbeatSeconds:     defaultIdleHeartbeatSeconds,
			ActiveHeartbeatSeconds:   defaultActiveHeartbeatSeconds,
			MissedHeartbeatThreshold: defaultMissedHeartbeatThreshold,
			ReconnectAttempts:        defaultReconnectAttempts,
			ReconnectCapSeconds:      defaultReconnectCapSeconds,
			CleanupAckSeconds:        defaultCleanupAckSeconds,
		},
		Session: Session{
			WorkspaceID: defaultWorkspaceID,
		},
		Transcriber: Transcriber{
			BaseURL:        defaultTranscriberBaseURL,
			Model:          defaultTranscriberModel,
			TimeoutSeconds: defaultTranscriberTimeoutSeconds,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Received:       true,
			Completed:      true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:   defaultQueuePollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
			MaxAttempts:         defaultMaxAttempts,
			RetryBackoffSeconds: defaultRetryBackoffSeconds,
		},
	}
}
