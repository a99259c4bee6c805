package config

const (
	defaultDataDir           = "~/.local/share/lectern"
	defaultStagingDir        = "~/.local/share/lectern/staging"
	defaultLogDir            = "~/.local/share/lectern/logs"
	defaultCacheDir          = "~/.local/share/lectern/cache"
	defaultKeyStore          = "~/.local/share/lectern/keys.json"
	defaultSocket            = "~/.local/share/lectern/lecternd.sock"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultQueuePollInterval = 5
	defaultErrorRetry        = 10
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120
	defaultJobWorkers        = 2
	defaultSegmentWorkers    = 3
	defaultCacheSweep        = 600
	defaultYtDlpBinary       = "yt-dlp"
	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultFetchTimeout      = 1800
	defaultMaxSegmentSecs    = 1200
	defaultScribeBaseURL     = "https://api.assemblyai.com/v2"
	defaultScribePollSecs    = 10
	defaultScribePollTimeout = 3600
	defaultSlideModel        = "gemini-2.5-flash"
	defaultSlideMaxPages     = 200
	defaultSlideTTLHours     = 24
	defaultSlideTimeout      = 120
	defaultSummaryModel      = "gemini-2.5-flash"
	defaultPromptVersion     = "v1"
	defaultSummaryTimeout    = 300
	defaultSummaryAttempts   = 5
	defaultCooldownSeconds   = 60
	defaultMergePolicy       = MergePolicyBlock
	defaultIngestDir         = "~/recordings"
	defaultIngestSettle      = 5
)

// Merge policies for jobs with a fatally failed segment.
const (
	MergePolicyBlock   = "block"
	MergePolicyPartial = "partial"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			CacheDir:   defaultCacheDir,
			KeyStore:   defaultKeyStore,
			Socket:     defaultSocket,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetry,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			JobWorkers:         defaultJobWorkers,
			SegmentWorkers:     defaultSegmentWorkers,
			CacheSweepInterval: defaultCacheSweep,
		},
		Media: Media{
			YtDlpBinary:       defaultYtDlpBinary,
			FFmpegBinary:      defaultFFmpegBinary,
			FFprobeBinary:     defaultFFprobeBinary,
			FetchTimeout:      defaultFetchTimeout,
			MaxSegmentSeconds: defaultMaxSegmentSecs,
		},
		Transcriber: Transcriber{
			BaseURL:      defaultScribeBaseURL,
			PollInterval: defaultScribePollSecs,
			PollTimeout:  defaultScribePollTimeout,
		},
		Slides: Slides{
			Model:          defaultSlideModel,
			MaxPages:       defaultSlideMaxPages,
			CacheTTLHours:  defaultSlideTTLHours,
			TimeoutSeconds: defaultSlideTimeout,
		},
		Summarizer: Summarizer{
			Model:           defaultSummaryModel,
			PromptVersion:   defaultPromptVersion,
			TimeoutSeconds:  defaultSummaryTimeout,
			MaxAttempts:     defaultSummaryAttempts,
			CooldownSeconds: defaultCooldownSeconds,
			MergePolicy:     defaultMergePolicy,
		},
		Ingest: Ingest{
			Enabled:       false,
			Dir:           defaultIngestDir,
			SettleSeconds: defaultIngestSettle,
		},
	}
}
