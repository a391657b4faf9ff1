package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"wabulk/internal/audit"
	"wabulk/internal/phone"
	logx "wabulk/pkg/logx"
)

const (
	DefaultCooldown       = 2 * time.Second
	DefaultRetryDelay     = 200 * time.Millisecond
	DefaultAuditTimeout   = 5 * time.Second
	DefaultChannelTimeout = 60 * time.Second
	DefaultHTTPAddr       = "127.0.0.1:8080"
	DefaultNotifyTimeout  = 10 * time.Second
)

// specParser accepts 5-field and 6-field (with seconds) cron specs plus descriptors.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Default returns a config that sends through one local sidecar and logs to CSV.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Console: true},
		Phone:    PhoneConfig{CountryCode: phone.DefaultCountryCode},
		Dispatch: DispatchConfig{Cooldown: DefaultCooldown.String()},
		Channel:  ChannelConfig{Driver: "sidecar", Sidecars: []string{"http://127.0.0.1:3000"}},
		Audit:    AuditConfig{Driver: "csv"},
	}
}

// Resolved holds the parsed durations of a Config, with defaults applied.
type Resolved struct {
	Cooldown       time.Duration
	RetryDelay     time.Duration
	AuditTimeout   time.Duration
	ChannelTimeout time.Duration
	BusyTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	NotifyTimeout  time.Duration
}

// Resolve parses every duration field.
func (c *Config) Resolve() (Resolved, error) {
	var (
		r    Resolved
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}

	// cooldown "0s" is a valid explicit choice, so it does not fall back
	if strings.TrimSpace(c.Dispatch.Cooldown) == "" {
		r.Cooldown = DefaultCooldown
	} else {
		d, err := ParseDurationField("dispatch.cooldown", c.Dispatch.Cooldown)
		if err != nil {
			errs = append(errs, err)
		}
		r.Cooldown = d
	}
	parse(&r.RetryDelay, "dispatch.retry_delay", c.Dispatch.RetryDelay, DefaultRetryDelay)
	parse(&r.AuditTimeout, "dispatch.audit_timeout", c.Dispatch.AuditTimeout, DefaultAuditTimeout)
	parse(&r.ChannelTimeout, "channel.timeout", c.Channel.Timeout, DefaultChannelTimeout)
	parse(&r.BusyTimeout, "audit.busy_timeout", c.Audit.BusyTimeout, 0)
	parse(&r.ReadTimeout, "http.read_timeout", c.HTTP.ReadTimeout, 15*time.Second)
	parse(&r.WriteTimeout, "http.write_timeout", c.HTTP.WriteTimeout, 0)
	if c.Notify != nil {
		parse(&r.NotifyTimeout, "notify.timeout", c.Notify.Timeout, DefaultNotifyTimeout)
	}
	return r, errors.Join(errs...)
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if cc := strings.TrimSpace(c.Phone.CountryCode); cc != "" && !phone.ValidCountryCode(cc) {
		errs = append(errs, fmt.Errorf("phone.country_code: must be two digits, got %q", cc))
	}
	if c.Dispatch.RetryMax < 0 {
		errs = append(errs, errors.New("dispatch.retry_max: must be >= 0"))
	}
	if c.Dispatch.QueueSize < 0 {
		errs = append(errs, errors.New("dispatch.queue_size: must be >= 0"))
	}
	if _, err := c.Resolve(); err != nil {
		errs = append(errs, err)
	}

	switch d := strings.ToLower(strings.TrimSpace(c.Channel.Driver)); d {
	case "", "sidecar":
		if len(c.Channel.Sidecars) == 0 {
			errs = append(errs, errors.New("channel.sidecars: at least one sidecar URL is required"))
		}
	case "dryrun", "dry-run":
	default:
		errs = append(errs, fmt.Errorf("channel.driver: unknown driver %q", d))
	}

	if !audit.ValidDriver(c.Audit.Driver) {
		errs = append(errs, fmt.Errorf("audit.driver: unknown driver %q (want one of %s)", c.Audit.Driver, strings.Join(audit.Drivers, ", ")))
	}
	switch strings.ToLower(strings.TrimSpace(c.Audit.Driver)) {
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(c.Audit.DSN) == "" {
			errs = append(errs, errors.New("audit.dsn is required when audit.driver=postgres"))
		}
	case "redis":
		if strings.TrimSpace(c.Audit.RedisAddr) == "" {
			errs = append(errs, errors.New("audit.redis_addr is required when audit.driver=redis"))
		}
	}

	if c.Notify != nil {
		if strings.TrimSpace(c.Notify.TelegramToken) == "" {
			errs = append(errs, errors.New("notify.telegram_token is required when notify is set"))
		}
		if c.Notify.ChatID == 0 {
			errs = append(errs, errors.New("notify.chat_id is required when notify is set"))
		}
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	seen := map[string]struct{}{}
	for i, s := range c.Schedules {
		path := fmt.Sprintf("schedules[%d]", i)
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", path))
		} else if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = struct{}{}
		if _, err := specParser.Parse(s.Spec); err != nil {
			errs = append(errs, fmt.Errorf("%s.spec: %w", path, err))
		}
		if strings.TrimSpace(s.File) == "" {
			errs = append(errs, fmt.Errorf("%s.file is required", path))
		}
		if strings.TrimSpace(s.Message) == "" && strings.TrimSpace(s.Image) == "" {
			errs = append(errs, fmt.Errorf("%s: message or image is required", path))
		}
	}
	return errors.Join(errs...)
}

// CountryCode returns the configured code or the default.
func (c *Config) CountryCode() string {
	if cc := strings.TrimSpace(c.Phone.CountryCode); cc != "" {
		return cc
	}
	return phone.DefaultCountryCode
}

// Location resolves Timezone. Empty means local time.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}
