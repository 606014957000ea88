package config

const (
	defaultStagingDir    = "~/.local/share/donecast/staging"
	defaultLogDir        = "~/.local/share/donecast/logs"
	defaultMediaCacheDir = "~/.cache/donecast/media"
	defaultAPIBind       = "127.0.0.1:7519"

	defaultSignedURLExpiryMinutes = 60
	defaultFetchAttempts          = 3
	defaultFetchBackoffMS         = 250
	defaultTranscriptPrefix       = "transcripts/"

	defaultHostingTimeout = 30
	defaultBillingTimeout = 10
	defaultPlanMinutes    = 80

	defaultDispatchMode    = "inprocess"
	defaultDispatchTimeout = 15

	defaultQueuePollInterval      = 5
	defaultErrorRetryInterval     = 10
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120
	defaultCommitAttempts         = 5
	defaultTerminalCommitAttempts = 8
	defaultCommitBackoffMS        = 100
	defaultCommitMaxBackoffMS     = 2000

	defaultNotifyTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:    defaultStagingDir,
			LogDir:        defaultLogDir,
			MediaCacheDir: defaultMediaCacheDir,
			APIBind:       defaultAPIBind,
		},
		Storage: Storage{
			Primary: Bucket{
				Region: "us-east-1",
				UseSSL: true,
			},
			Legacy: Bucket{
				UseSSL: true,
			},
			SignedURLExpiryMinutes: defaultSignedURLExpiryMinutes,
			FetchAttempts:          defaultFetchAttempts,
			FetchBackoffMS:         defaultFetchBackoffMS,
			TranscriptPrefix:       defaultTranscriptPrefix,
		},
		Hosting: Hosting{
			RequestTimeout: defaultHostingTimeout,
		},
		Billing: Billing{
			RequestTimeout:      defaultBillingTimeout,
			PlanIncludedMinutes: defaultPlanMinutes,
		},
		Dispatch: Dispatch{
			Mode:           defaultDispatchMode,
			RequestTimeout: defaultDispatchTimeout,
		},
		Workflow: Workflow{
			QueuePollInterval:      defaultQueuePollInterval,
			ErrorRetryInterval:     defaultErrorRetryInterval,
			HeartbeatInterval:      defaultHeartbeatInterval,
			HeartbeatTimeout:       defaultHeartbeatTimeout,
			CommitAttempts:         defaultCommitAttempts,
			TerminalCommitAttempts: defaultTerminalCommitAttempts,
			CommitBackoffMS:        defaultCommitBackoffMS,
			CommitMaxBackoffMS:     defaultCommitMaxBackoffMS,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Processed:      true,
			Errors:         true,
			Billing:        true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
