package config

const (
	defaultSessionDir            = "~/.local/share/scribe/session"
	defaultOutputDir             = "~/.local/share/scribe/transcripts"
	defaultLogDir                = "~/.local/share/scribe/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultMaxConcurrency        = 4
	defaultHeartbeatInterval     = 15
	defaultHeartbeatTimeout      = 120
	defaultChainMaxRetries       = 2
	defaultRetryBackoffSeconds   = 2
	defaultCaptionsBaseURL       = "https://video.google.com/timedtext"
	defaultCaptionsLanguage      = "en"
	defaultCaptionsTimeout       = 30
	defaultTranscriberBaseURL    = "https://apis.voicebase.com/v3"
	defaultTranscriberPollFirst  = 5
	defaultTranscriberPollMax    = 60
	defaultTranscriberJobTimeout = 10
	defaultProxyTimeout          = 45
	defaultOutputFormat          = "markdown"
)

func defaultBudget(capacity, windowSeconds int) Budget {
	return Budget{Capacity: capacity, WindowSeconds: windowSeconds}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SessionDir: defaultSessionDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
		},
		Workers: Workers{
			MaxConcurrency:    defaultMaxConcurrency,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
		},
		RateLimits: RateLimits{
			Captions:    defaultBudget(60, 60),
			Transcriber: defaultBudget(10, 60),
			Proxy:       defaultBudget(30, 60),
		},
		Chain: Chain{
			Order:               []string{"captions", "transcriber", "proxy"},
			MaxRetries:          defaultChainMaxRetries,
			RetryBackoffSeconds: defaultRetryBackoffSeconds,
		},
		Captions: Captions{
			BaseURL:        defaultCaptionsBaseURL,
			Language:       defaultCaptionsLanguage,
			RequestTimeout: defaultCaptionsTimeout,
		},
		Transcriber: Transcriber{
			BaseURL:            defaultTranscriberBaseURL,
			PollInitialSeconds: defaultTranscriberPollFirst,
			PollMaxSeconds:     defaultTranscriberPollMax,
			JobTimeoutMinutes:  defaultTranscriberJobTimeout,
		},
		Proxy: Proxy{
			RequestTimeout: defaultProxyTimeout,
		},
		Output: Output{
			Format: defaultOutputFormat,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
