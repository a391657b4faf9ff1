package app

import (
	"strings"

	"wabulk/internal/audit"
	"wabulk/internal/channel"
	"wabulk/internal/config"
	"wabulk/internal/contacts"
	"wabulk/internal/dispatch"
	"wabulk/internal/httpapi"
	"wabulk/internal/notify"
	"wabulk/internal/schedule"
	logx "wabulk/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapAudit(cfg *config.Config, r config.Resolved) audit.Config {
	return audit.Config{
		Driver:      strings.TrimSpace(cfg.Audit.Driver),
		Path:        strings.TrimSpace(cfg.Audit.Path),
		DSN:         strings.TrimSpace(cfg.Audit.DSN),
		BusyTimeout: r.BusyTimeout,
		RedisAddr:   strings.TrimSpace(cfg.Audit.RedisAddr),
		RedisKey:    strings.TrimSpace(cfg.Audit.RedisKey),
	}
}

func mapChannel(cfg *config.Config, r config.Resolved) channel.Config {
	return channel.Config{
		Driver:   cfg.Channel.Driver,
		Sidecars: cfg.Channel.Sidecars,
		Timeout:  r.ChannelTimeout,
		Token:    cfg.Channel.Token,
	}
}

func mapDispatch(cfg *config.Config, r config.Resolved) dispatch.Config {
	return dispatch.Config{
		Cooldown:     r.Cooldown,
		RetryMax:     cfg.Dispatch.RetryMax,
		RetryDelay:   r.RetryDelay,
		AuditTimeout: r.AuditTimeout,
	}
}

func mapService(cfg *config.Config) dispatch.ServiceConfig {
	return dispatch.ServiceConfig{QueueSize: cfg.Dispatch.QueueSize}
}

func mapLoader(cfg *config.Config, remote contacts.Fetcher, log logx.Logger) *contacts.Loader {
	return &contacts.Loader{
		CountryCode: cfg.CountryCode(),
		Strict:      cfg.Phone.Strict,
		Remote:      remote,
		Log:         log,
	}
}

func mapHTTP(cfg *config.Config, r config.Resolved) httpapi.Config {
	return httpapi.Config{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		Token:        strings.TrimSpace(cfg.HTTP.Token),
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
		UploadDir:    strings.TrimSpace(cfg.HTTP.UploadDir),
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		Pprof:        cfg.HTTP.Pprof,
	}
}

// mapNotify reports false when notifications are off.
func mapNotify(cfg *config.Config, r config.Resolved) (notify.Config, bool) {
	if cfg.Notify == nil {
		return notify.Config{}, false
	}
	return notify.Config{
		Token:   strings.TrimSpace(cfg.Notify.TelegramToken),
		ChatID:  cfg.Notify.ChatID,
		Timeout: r.NotifyTimeout,
	}, true
}

func mapCampaigns(cfg *config.Config) []schedule.Campaign {
	out := make([]schedule.Campaign, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		out = append(out, schedule.Campaign{
			Name:  strings.TrimSpace(s.Name),
			Spec:  strings.TrimSpace(s.Spec),
			File:  strings.TrimSpace(s.File),
			Group: strings.TrimSpace(s.Group),
			Payload: dispatch.Payload{
				Text:      s.Message,
				ImagePath: strings.TrimSpace(s.Image),
				Caption:   s.Caption,
			},
		})
	}
	return out
}
