// Package notify reports finished runs to an operator Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"wabulk/internal/dispatch"
	logx "wabulk/pkg/logx"
)

// telegramTextLimit is the Bot API message length cap.
const telegramTextLimit = 4096

type Config struct {
	Token   string
	ChatID  int64
	Timeout time.Duration
	// URL overrides the Bot API endpoint.
	URL string
}

// Telegram posts run summaries with a send-only bot. It never polls.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notify: telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify: chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, log: log}, nil
}

// Send posts text, truncated to the Telegram limit.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r := []rune(text); len(r) > telegramTextLimit {
		text = string(r[:telegramTextLimit-1]) + "…"
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

// Hook returns a dispatch finish hook that posts the summary of each job.
// Delivery errors are logged and never affect the run.
func (t *Telegram) Hook(ctx context.Context) func(dispatch.JobStatus) {
	return func(st dispatch.JobStatus) {
		if err := t.Send(ctx, Summary(st)); err != nil {
			t.log.Warn("run summary not delivered", logx.String("job", st.ID), logx.Err(err))
		}
	}
}

// Summary renders a job status as a short plain-text report.
func Summary(st dispatch.JobStatus) string {
	var b strings.Builder
	name := st.Name
	if name == "" {
		name = st.ID
	}
	if st.State == dispatch.JobFailed || st.Report == nil {
		fmt.Fprintf(&b, "wabulk run %q did not start: %s", name, st.Error)
		return b.String()
	}

	rep := st.Report
	fmt.Fprintf(&b, "wabulk run %q finished: %s\n", name, rep.Classification)
	fmt.Fprintf(&b, "sent %d/%d, failed %d", rep.Succeeded, len(rep.Outcomes), rep.Failed)
	if rep.Skipped > 0 {
		fmt.Fprintf(&b, " (%d skipped, run cancelled)", rep.Skipped)
	}
	b.WriteByte('\n')
	if n := len(rep.Rejected); n > 0 {
		fmt.Fprintf(&b, "rejected rows: %d\n", n)
	}
	if rep.AuditFailures > 0 {
		fmt.Fprintf(&b, "audit failures: %d\n", rep.AuditFailures)
	}

	shown := 0
	for _, o := range rep.Outcomes {
		if o.Status == dispatch.Success || o.Skipped {
			continue
		}
		if shown == 10 {
			b.WriteString("…\n")
			break
		}
		fmt.Fprintf(&b, "✗ %s: %s\n", o.Recipient.E164(), o.Reason)
		shown++
	}
	fmt.Fprintf(&b, "took %s", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Second))
	return b.String()
}
