package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "wabulk/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second
)

// ConfigManager owns the config file of a running process. It parses and
// commits the file, watches it for edits and fans validated configs out to
// subscribers.
type ConfigManager struct {
	path string

	mu   sync.RWMutex
	cfg  *Config
	hash uint64 // of the committed config; edits that decode the same are not republished

	// subsMu is held while sending so Unsubscribe never closes a channel mid-send.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop()}
}

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs the check a watched edit must pass before it is
// committed and published. Load does not call it.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the file without committing it. Omitted
// sections keep their Default values.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, raw)
}

func decode(path string, raw []byte) (*Config, error) {
	jb, format, err := toStrictJSON(path, expandEnv(raw))
	if err != nil {
		return nil, err
	}
	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", format, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == nil:
		return nil, fmt.Errorf("%s: invalid config: trailing data", format)
	case !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("%s: %w", format, err)
	}
	return cfg, nil
}

// Load parses and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// Commit makes cfg the current config without publishing it.
func (m *ConfigManager) Commit(cfg *Config) {
	h := hashConfig(cfg)
	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives every published config. A slow
// subscriber loses older updates, never the newest one.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				select {
				case <-ch: // drop the oldest pending update
				default:
				}
				continue
			}
			break
		}
	}
}

// reload re-reads the file after an edit and publishes it when it decodes to
// something new and passes the validator. It reports whether it published.
func (m *ConfigManager) reload(ctx context.Context) bool {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config edit ignored: parse failed", logx.String("path", m.path), logx.Err(err))
		return false
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		m.log.Debug("config edit ignored: unchanged", logx.String("path", m.path))
		return false
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config edit rejected", logx.String("path", m.path), logx.Err(err))
			return false
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
	return true
}

// Watch reloads the file on every settled edit until ctx ends. The parent
// directory is watched so editors that save by rename are seen. A watcher that
// fails or closes is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() { m.reload(ctx) })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	wait := rewatchMin
	for {
		err := m.watchDir(ctx, dir, name, schedule, func() { wait = rewatchMin })
		if ctx.Err() != nil {
			return nil
		}
		jittered := wait + rand.N(wait/2+1)
		m.log.Warn("config watcher restarting", logx.String("dir", dir), logx.Duration("backoff", jittered), logx.Err(err))
		wait = min(wait*2, rewatchMax)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(jittered):
		}
	}
}

// watchDir runs one fsnotify watcher until it breaks or ctx ends. healthy is
// called once the watch is established.
func (m *ConfigManager) watchDir(ctx context.Context, dir, name string, changed, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return err
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if filepath.Base(ev.Name) == name && ev.Op&ops != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events may be lost; reread once
				m.log.Warn("config watch overflow", logx.String("dir", dir))
				changed()
				continue
			}
			if errors.Is(err, fsnotify.ErrClosed) {
				return err
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}
