package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"wabulk/internal/audit"
	"wabulk/internal/config"
	"wabulk/internal/contacts"
	logx "wabulk/pkg/logx"
)

// Options controls how the configuration is loaded.
type Options struct {
	ConfigPath string
	// ConfigRequired fails when ConfigPath is missing instead of using defaults.
	ConfigRequired bool
	EnvFiles       []string
	// Override adjusts every loaded config, including hot reloads.
	Override func(*config.Config)
}

// Base is the validated config and the logger. Commands that only read
// contacts or the audit log stop here; serve and send go on to New.
type Base struct {
	Config *config.Config
	Log    logx.Logger

	opts   Options
	cfgm   *config.ConfigManager
	watch  bool
	root   logx.Logger
	logs   *logx.Service
	remote *contacts.S3Fetcher
}

func Bootstrap(opts Options) (*Base, error) {
	envLoaded, err := config.LoadEnvFiles(opts.EnvFiles...)
	if err != nil {
		return nil, err
	}

	cfgm := config.NewConfigManager(opts.ConfigPath)
	raw, watch, err := loadConfig(cfgm, opts)
	if err != nil {
		return nil, err
	}
	cfg := applyOverride(raw, opts.Override)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, root := logx.NewService(mapLogging(cfg))
	b := &Base{
		Config: cfg,
		Log:    root.With(logx.String("comp", "app")),
		opts:   opts,
		cfgm:   cfgm,
		watch:  watch,
		root:   root,
		logs:   logs,
		// the AWS client is created on the first s3:// load
		remote: contacts.NewS3Fetcher(cfg.Sources.S3Region),
	}
	if len(envLoaded) > 0 {
		b.Log.Debug("env files loaded", logx.Any("files", envLoaded))
	}
	return b, nil
}

// loadConfig reads the config file. A missing optional file yields defaults
// and disables watching.
func loadConfig(cfgm *config.ConfigManager, opts Options) (*config.Config, bool, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path != "" {
		cfg, err := cfgm.Load()
		if err == nil {
			return cfg, true, nil
		}
		if opts.ConfigRequired || !errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg := config.Default()
	cfgm.Commit(cfg)
	return cfg, false, nil
}

func applyOverride(raw *config.Config, fn func(*config.Config)) *config.Config {
	cfg := *raw
	if fn != nil {
		fn(&cfg)
	}
	return &cfg
}

// Loader returns a contact loader for the current phone settings.
func (b *Base) Loader() *contacts.Loader {
	return mapLoader(b.Config, b.remote, b.root.With(logx.String("comp", "contacts")))
}

// OpenStore opens the configured audit store.
func (b *Base) OpenStore() (audit.Store, error) {
	r, err := b.Config.Resolve()
	if err != nil {
		return nil, err
	}
	return audit.Open(mapAudit(b.Config, r), b.root.With(logx.String("comp", "audit")))
}

func (b *Base) Close() error {
	if b.logs == nil {
		return nil
	}
	return b.logs.Close()
}
