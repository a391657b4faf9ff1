package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// String values may reference the environment as ${VAR}.
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Phone     PhoneConfig      `json:"phone"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	Channel   ChannelConfig    `json:"channel"`
	Audit     AuditConfig      `json:"audit"`
	Sources   SourcesConfig    `json:"sources,omitempty"`
	HTTP      HTTPConfig       `json:"http,omitempty"`
	Notify    *NotifyConfig    `json:"notify,omitempty"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
	// Timezone evaluates schedule specs, e.g. "Asia/Kolkata". Default is local time.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PhoneConfig controls number normalization.
//
// Strict rejects numbers whose length needed a guess (padding, truncation,
// re-prefixing) instead of accepting them with a warning.
type PhoneConfig struct {
	CountryCode string `json:"country_code"`
	Strict      bool   `json:"strict,omitempty"`
}

// DispatchConfig controls pacing.
//
// Defaults (when fields are omitted/zero):
//   - cooldown: "2s" ("0s" disables pacing)
//   - retry_max: 0
//   - retry_delay: "200ms"
//   - audit_timeout: "5s"
type DispatchConfig struct {
	Cooldown     string `json:"cooldown"`
	RetryMax     int    `json:"retry_max,omitempty"`
	RetryDelay   string `json:"retry_delay,omitempty"`
	AuditTimeout string `json:"audit_timeout,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
}

// ChannelConfig selects the messaging backend.
type ChannelConfig struct {
	Driver   string   `json:"driver,omitempty"` // "sidecar" (default) or "dryrun"
	Sidecars []string `json:"sidecars,omitempty"`
	Timeout  string   `json:"timeout,omitempty"` // default: "60s"
	Token    string   `json:"token,omitempty"`   // optional bearer token (do not log)
}

// AuditConfig selects where send records go.
//
// Example:
//
//	"audit": { "driver": "sqlite", "path": "./message_tracking/message_log.db" }
type AuditConfig struct {
	Driver      string `json:"driver,omitempty"` // csv (default), xlsx, sqlite, postgres, redis
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	RedisKey    string `json:"redis_key,omitempty"`
}

type SourcesConfig struct {
	S3Region string `json:"s3_region,omitempty"`
}

// HTTPConfig controls the serve-mode API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - Set a token when binding to a non-loopback address.
type HTTPConfig struct {
	Addr         string   `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token        string   `json:"token,omitempty"` // optional bearer token (do not log)
	ReadTimeout  string   `json:"read_timeout,omitempty"`
	WriteTimeout string   `json:"write_timeout,omitempty"`
	UploadDir    string   `json:"upload_dir,omitempty"`
	CORSOrigins  []string `json:"cors_origins,omitempty"`
	Pprof        bool     `json:"pprof,omitempty"` // mounts /debug/pprof behind the token
}

// NotifyConfig sends a run summary to an operator Telegram chat.
type NotifyConfig struct {
	TelegramToken string `json:"telegram_token"` // do not log
	ChatID        int64  `json:"chat_id"`
	Timeout       string `json:"timeout,omitempty"`
}

// ScheduleConfig is one recurring campaign.
type ScheduleConfig struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"` // cron, seconds optional; descriptors like @daily or "@every 2h" allowed
	File    string `json:"file"`
	Group   string `json:"group,omitempty"`
	Message string `json:"message,omitempty"`
	Image   string `json:"image,omitempty"`
	Caption string `json:"caption,omitempty"`
}
