package config

import "time"

const (
	defaultConfigPath            = "~/.config/tubemux/config.toml"
	defaultStagingDir            = "~/.local/share/tubemux/staging"
	defaultOutputDir             = "~/Videos/tubemux"
	defaultStateDir              = "~/.local/share/tubemux"
	defaultAPIBind               = "127.0.0.1:7488"
	defaultCatalogBackend        = "youtube"
	defaultYTDLPBinary           = "yt-dlp"
	defaultCatalogRequestTimeout = 30
	defaultUserAgent             = "tubemux/dev"
	defaultFetchMaxRetries       = 3
	defaultFetchBackoffBaseMS    = 1000
	defaultFetchSpaceMargin      = 1.2
	defaultFetchProgressMS       = 200
	defaultFetchRequestTimeout   = 30
	defaultFFmpegBinary          = "ffmpeg"
	defaultFFprobeBinary         = "ffprobe"
	defaultMuxMinTimeout         = 60
	defaultMuxSecondsPerGiB      = 120
	defaultWorkflowProgressMS    = 500
	defaultStaleScratchHours     = 24
	defaultSubmitRatePerMinute   = 30
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"

	minProgressInterval = 200 * time.Millisecond
)

// CatalogBackends lists the accepted catalog.backend values.
var CatalogBackends = []string{"youtube", "ytdlp"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			StateDir:   defaultStateDir,
			APIBind:    defaultAPIBind,
		},
		Catalog: Catalog{
			Backend:        defaultCatalogBackend,
			YTDLPBinary:    defaultYTDLPBinary,
			RequestTimeout: defaultCatalogRequestTimeout,
			UserAgent:      defaultUserAgent,
		},
		Fetch: Fetch{
			MaxRetries:         defaultFetchMaxRetries,
			BackoffBaseMS:      defaultFetchBackoffBaseMS,
			SpaceMargin:        defaultFetchSpaceMargin,
			ProgressIntervalMS: defaultFetchProgressMS,
			RequestTimeout:     defaultFetchRequestTimeout,
		},
		Mux: Mux{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			MinTimeout:    defaultMuxMinTimeout,
			SecondsPerGiB: defaultMuxSecondsPerGiB,
		},
		Workflow: Workflow{
			ProgressIntervalMS:  defaultWorkflowProgressMS,
			StaleScratchHours:   defaultStaleScratchHours,
			SubmitRatePerMinute: defaultSubmitRatePerMinute,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Ready:          true,
			Failed:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
