/*
Package config loads pipeline settings from YAML or JSON.

# Accessors

Config wraps a decoded document and extracts values with defaults:

	cfg, err := config.FromFile("eventpipe.yaml")
	if err != nil {
	    return err
	}
	interval := cfg.Duration("flush_interval", 30*time.Second)

Durations accept Go duration strings ("30s", "1m30s") or plain numbers of
seconds. Integers accept JSON floats without a fractional part.

# Settings

SettingsFrom maps the flat document onto Settings and applies defaults:

	endpoint: https://collector.example/v1/events
	headers:
	  X-Api-Key: secret
	batch_size: 50
	flush_interval: 30s
	max_queue_size: 10000
	queue_path: ./queue.db
	store_path: ./identity.db
	schema_path: ./schema.yaml
	watch_schema: true
	drop_ineligible: false
	flush_on_track: false
	dispatch_attempts: 3
	dispatch_backoff: 500ms
	dispatch_max_backoff: 10s
	dispatch_jitter: 0.1
	http_timeout: 10s

Validate returns every problem joined into one error.

The event schema lives in its own file and is loaded by package schema.
*/
package config
