// Package dryrun is a channel that only logs what it would send.
package dryrun

import (
	"context"
	"path/filepath"
	"sync"

	"wabulk/internal/phone"
	logx "wabulk/pkg/logx"
)

// Sent is one recorded send.
type Sent struct {
	To      phone.Number
	Text    string
	Image   string
	Caption string
}

// Session succeeds on every send and remembers it.
type Session struct {
	name string
	log  logx.Logger

	mu   sync.Mutex
	sent []Sent
}

func New(name string, log logx.Logger) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{name: name, log: log}
}

func (s *Session) Name() string { return s.name }

func (s *Session) SendText(ctx context.Context, to phone.Number, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.record(Sent{To: to, Text: text})
	s.log.Info("dry-run text", logx.String("to", to.E164()), logx.Int("chars", len(text)))
	return nil
}

func (s *Session) SendImage(ctx context.Context, to phone.Number, imagePath, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.record(Sent{To: to, Image: imagePath, Caption: caption})
	s.log.Info("dry-run image", logx.String("to", to.E164()), logx.String("image", filepath.Base(imagePath)))
	return nil
}

func (s *Session) Health(context.Context) error { return nil }

func (s *Session) Close(context.Context) error { return nil }

// Sent returns a copy of everything sent so far.
func (s *Session) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Session) record(v Sent) {
	s.mu.Lock()
	s.sent = append(s.sent, v)
	s.mu.Unlock()
}
