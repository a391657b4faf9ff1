package config

import (
	"reflect"
	"sort"
	"strings"

	logx "wabulk/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens or DSNs),
// and (3) the names of schedules that were added, removed or edited.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Phone != newCfg.Phone {
		changed = append(changed, "phone")
		attrs = append(attrs,
			logx.String("phone.country_code", newCfg.Phone.CountryCode),
			logx.Bool("phone.strict", newCfg.Phone.Strict),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.cooldown", strings.TrimSpace(newCfg.Dispatch.Cooldown)),
			logx.Int("dispatch.retry_max", newCfg.Dispatch.RetryMax),
			logx.String("dispatch.retry_delay", strings.TrimSpace(newCfg.Dispatch.RetryDelay)),
			logx.String("dispatch.audit_timeout", strings.TrimSpace(newCfg.Dispatch.AuditTimeout)),
		)
	}

	// Channel (never log token)
	if !strings.EqualFold(strings.TrimSpace(oldCfg.Channel.Driver), strings.TrimSpace(newCfg.Channel.Driver)) ||
		!reflect.DeepEqual(oldCfg.Channel.Sidecars, newCfg.Channel.Sidecars) ||
		strings.TrimSpace(oldCfg.Channel.Timeout) != strings.TrimSpace(newCfg.Channel.Timeout) ||
		(oldCfg.Channel.Token != "") != (newCfg.Channel.Token != "") {
		changed = append(changed, "channel")
		attrs = append(attrs,
			logx.String("channel.driver", strings.TrimSpace(newCfg.Channel.Driver)),
			logx.Int("channel.sidecar_count", len(newCfg.Channel.Sidecars)),
			logx.Bool("channel.token_set", newCfg.Channel.Token != ""),
		)
	}

	// Audit (never log DSN)
	if oldCfg.Audit != newCfg.Audit {
		changed = append(changed, "audit")
		attrs = append(attrs,
			logx.String("audit.driver", strings.TrimSpace(newCfg.Audit.Driver)),
			logx.Bool("audit.path_set", strings.TrimSpace(newCfg.Audit.Path) != ""),
			logx.Bool("audit.dsn_set", strings.TrimSpace(newCfg.Audit.DSN) != ""),
		)
	}

	if oldCfg.Sources != newCfg.Sources {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.String("sources.s3_region", newCfg.Sources.S3Region))
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
			logx.Int("http.cors_origins", len(newCfg.HTTP.CORSOrigins)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	var oN, nN NotifyConfig
	if oldCfg.Notify != nil {
		oN = *oldCfg.Notify
	}
	if newCfg.Notify != nil {
		nN = *newCfg.Notify
	}
	if oN != nN || (oldCfg.Notify == nil) != (newCfg.Notify == nil) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newCfg.Notify != nil),
			logx.Int64("notify.chat_id", nN.ChatID),
		)
	}

	schedChanged := diffSchedules(oldCfg.Schedules, newCfg.Schedules)
	tzChanged := strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone)
	if len(schedChanged) > 0 || tzChanged {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Int("schedules.changed_count", len(schedChanged)),
			logx.Int("schedules.count", len(newCfg.Schedules)),
			logx.String("timezone", strings.TrimSpace(newCfg.Timezone)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, schedChanged
}

func diffSchedules(oldS, newS []ScheduleConfig) []string {
	index := func(in []ScheduleConfig) map[string]ScheduleConfig {
		m := make(map[string]ScheduleConfig, len(in))
		for _, s := range in {
			m[strings.TrimSpace(s.Name)] = s
		}
		return m
	}
	oldM, newM := index(oldS), index(newS)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
