package stratum

import "github.com/kartikbazzad/stratum/internal/config"

// Options configures an engine instance.
type Options struct {
	// AuthEnabled controls whether permissions are enforced for anonymous
	// actors. Authenticated actors are always subject to checks unless
	// their role and scope allow skipping.
	AuthEnabled bool

	// BatchSize is the record count per batch for generic scans
	// (default: 64).
	BatchSize int

	// FullTextBatchSize is the smaller batch size used by full-text scans
	// so relevance-ordered consumers start sooner (default: 16).
	FullTextBatchSize int

	// ExprCacheSize bounds the compiled-expression cache (default: 256).
	ExprCacheSize int

	// FetchWorkers sizes the concurrent record-fetch pool (default: 8).
	// Zero disables pooled fetching; fetches then run sequentially.
	FetchWorkers int

	// LogLevel and LogFormat configure the global logger.
	LogLevel  string
	LogFormat string
}

// DefaultOptions returns the engine defaults with auth enforcement on.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps a loaded configuration onto engine options.
func OptionsFromConfig(cfg config.Engine) Options {
	return Options{
		AuthEnabled:       cfg.AuthEnabled,
		BatchSize:         cfg.BatchSize,
		FullTextBatchSize: cfg.FullTextBatchSize,
		ExprCacheSize:     cfg.ExprCacheSize,
		FetchWorkers:      cfg.FetchWorkers,
		LogLevel:          cfg.LogLevel,
		LogFormat:         cfg.LogFormat,
	}
}

func (o *Options) applyDefaults() {
	def := config.Default()
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.FullTextBatchSize <= 0 {
		o.FullTextBatchSize = def.FullTextBatchSize
	}
	if o.ExprCacheSize <= 0 {
		o.ExprCacheSize = def.ExprCacheSize
	}
	if o.FetchWorkers < 0 {
		o.FetchWorkers = 0
	}
	if o.LogLevel == "" {
		o.LogLevel = def.LogLevel
	}
	if o.LogFormat == "" {
		o.LogFormat = def.LogFormat
	}
}
