package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved runtime settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("EventJobs", GetVersion())

	logger.Info().
		Str("version", GetVersion()).
		Str("mode", config.Server.Mode).
		Str("storage", config.Storage.Type).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Int("concurrency", config.Queue.Concurrency).
		Str("job_timeout", config.Queue.JobTimeout).
		Bool("cleanup_enabled", config.Cleanup.Enabled).
		Msg("EventJobs starting")
}
