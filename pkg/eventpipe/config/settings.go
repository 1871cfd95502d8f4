package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	eperrors "github.com/randalmurphal/eventpipe/pkg/eventpipe/errors"
)

// Defaults applied by SettingsFrom and DefaultSettings.
const (
	DefaultBatchSize        = 50
	DefaultFlushInterval    = 30 * time.Second
	DefaultMaxQueueSize     = 10000
	DefaultDispatchAttempts = 1
	DefaultDispatchBackoff  = 500 * time.Millisecond
	DefaultDispatchMaxWait  = 10 * time.Second
	DefaultDispatchJitter   = 0.1
	DefaultHTTPTimeout      = 10 * time.Second
	MemoryPath              = ":memory:"
)

// Settings is the typed pipeline configuration.
type Settings struct {
	// Endpoint is the collection URL. Required when dispatching over HTTP.
	Endpoint string
	Headers  map[string]string

	BatchSize     int
	FlushInterval time.Duration
	MaxQueueSize  int

	// QueuePath and StorePath are SQLite paths, or ":memory:".
	QueuePath string
	StorePath string

	// SchemaPath is an optional schema file; WatchSchema reloads it on change.
	SchemaPath  string
	WatchSchema bool

	// DropIneligible discards events that fail mandatory or type checks
	// instead of forwarding them.
	DropIneligible bool

	// FlushOnTrack dispatches synchronously at the end of every Track call.
	FlushOnTrack bool

	// DispatchAttempts bounds submissions per flush. Between attempts the
	// dispatcher waits DispatchBackoff, doubling up to DispatchMaxBackoff,
	// randomized by DispatchJitter (0-1).
	DispatchAttempts   int
	DispatchBackoff    time.Duration
	DispatchMaxBackoff time.Duration
	DispatchJitter     float64

	HTTPTimeout time.Duration
}

// DefaultSettings returns Settings with every default applied.
func DefaultSettings() Settings {
	return SettingsFrom(New(nil))
}

// SettingsFrom extracts Settings from cfg, applying defaults for missing keys.
func SettingsFrom(cfg Config) Settings {
	return Settings{
		Endpoint:           cfg.String("endpoint", ""),
		Headers:            cfg.StringMap("headers"),
		BatchSize:          cfg.Int("batch_size", DefaultBatchSize),
		FlushInterval:      cfg.Duration("flush_interval", DefaultFlushInterval),
		MaxQueueSize:       cfg.Int("max_queue_size", DefaultMaxQueueSize),
		QueuePath:          cfg.String("queue_path", MemoryPath),
		StorePath:          cfg.String("store_path", MemoryPath),
		SchemaPath:         cfg.String("schema_path", ""),
		WatchSchema:        cfg.Bool("watch_schema", false),
		DropIneligible:     cfg.Bool("drop_ineligible", false),
		FlushOnTrack:       cfg.Bool("flush_on_track", false),
		DispatchAttempts:   cfg.Int("dispatch_attempts", DefaultDispatchAttempts),
		DispatchBackoff:    cfg.Duration("dispatch_backoff", DefaultDispatchBackoff),
		DispatchMaxBackoff: cfg.Duration("dispatch_max_backoff", DefaultDispatchMaxWait),
		DispatchJitter:     cfg.Float("dispatch_jitter", DefaultDispatchJitter),
		HTTPTimeout:        cfg.Duration("http_timeout", DefaultHTTPTimeout),
	}
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	if s.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", s.BatchSize))
	}
	if s.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush_interval must be positive, got %s", s.FlushInterval))
	}
	if s.MaxQueueSize < 0 {
		errs = append(errs, fmt.Errorf("max_queue_size must not be negative, got %d", s.MaxQueueSize))
	}
	if s.DispatchAttempts < 1 {
		errs = append(errs, fmt.Errorf("dispatch_attempts must be at least 1, got %d", s.DispatchAttempts))
	}
	if s.DispatchBackoff < 0 {
		errs = append(errs, fmt.Errorf("dispatch_backoff must not be negative, got %s", s.DispatchBackoff))
	}
	if s.DispatchMaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("dispatch_max_backoff must not be negative, got %s", s.DispatchMaxBackoff))
	}
	if s.DispatchJitter < 0 || s.DispatchJitter > 1 {
		errs = append(errs, fmt.Errorf("dispatch_jitter must be between 0 and 1, got %g", s.DispatchJitter))
	}
	if s.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("http_timeout must not be negative, got %s", s.HTTPTimeout))
	}
	if s.QueuePath == "" {
		errs = append(errs, errors.New("queue_path must not be empty"))
	}
	if s.StorePath == "" {
		errs = append(errs, errors.New("store_path must not be empty"))
	}
	if s.WatchSchema && s.SchemaPath == "" {
		errs = append(errs, errors.New("watch_schema requires schema_path"))
	}
	if s.Endpoint != "" {
		if u, err := url.Parse(s.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("endpoint must be an absolute http(s) URL, got %q", s.Endpoint))
		}
	}
	return errors.Join(errs...)
}

// Retry returns the retry policy for DispatchAttempts.
func (s Settings) Retry() eperrors.RetryConfig {
	if s.DispatchAttempts <= 1 {
		return eperrors.NoRetry
	}
	return eperrors.NewRetryConfig(
		eperrors.WithMaxAttempts(s.DispatchAttempts),
		eperrors.WithInitialBackoff(s.DispatchBackoff),
		eperrors.WithMaxBackoff(s.DispatchMaxBackoff),
		eperrors.WithJitter(s.DispatchJitter),
	)
}
