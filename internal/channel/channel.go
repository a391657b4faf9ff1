// Package channel defines the boundary to the messaging backend.
//
// A Channel sends one message to one recipient and reports success with a
// nil error. Sessions are explicit values owned by the caller; nothing in
// this package keeps global session state.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wabulk/internal/channel/dryrun"
	"wabulk/internal/channel/sidecar"
	"wabulk/internal/phone"
	logx "wabulk/pkg/logx"
)

// Channel sends messages. Each call is bounded by the implementation's own timeout.
type Channel interface {
	SendText(ctx context.Context, to phone.Number, text string) error
	SendImage(ctx context.Context, to phone.Number, imagePath, caption string) error
}

// Session is a Channel with a lifecycle.
type Session interface {
	Channel
	Name() string
	Health(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config selects and configures sessions.
type Config struct {
	// Driver is "sidecar" (default) or "dryrun".
	Driver   string
	Sidecars []string
	Timeout  time.Duration
	Token    string
}

// Open builds one session per configured sidecar, or a single dry-run session.
func Open(cfg Config, log logx.Logger) ([]Session, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "dryrun", "dry-run":
		return []Session{dryrun.New("dryrun", log.With(logx.String("comp", "channel.dryrun")))}, nil
	case "", "sidecar":
		if len(cfg.Sidecars) == 0 {
			return nil, errors.New("channel.sidecars: at least one sidecar URL is required")
		}
		out := make([]Session, 0, len(cfg.Sidecars))
		for i, u := range cfg.Sidecars {
			u = strings.TrimSpace(u)
			if u == "" {
				return nil, fmt.Errorf("channel.sidecars[%d]: empty URL", i)
			}
			name := fmt.Sprintf("sidecar-%d", i)
			out = append(out, sidecar.New(u,
				sidecar.WithName(name),
				sidecar.WithTimeout(cfg.Timeout),
				sidecar.WithToken(cfg.Token),
				sidecar.WithLogger(log.With(logx.String("comp", "channel"), logx.String("session", name))),
			))
		}
		return out, nil
	default:
		return nil, errors.New("unknown channel driver: " + d)
	}
}

// Channels converts sessions to the narrower Channel interface.
func Channels(sessions []Session) []Channel {
	out := make([]Channel, len(sessions))
	for i, s := range sessions {
		out[i] = s
	}
	return out
}

// CloseAll closes every session and returns the first error.
func CloseAll(ctx context.Context, sessions []Session) error {
	var first error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", s.Name(), err)
		}
	}
	return first
}
