package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wabulk/internal/config"
	"wabulk/internal/dispatch"
)

type sendOptions struct {
	recipients recipientFlags
	name       string
	message    string
	image      string
	caption    string
	dryRun     bool
	asJSON     bool
	cooldown   time.Duration
}

func sendCmd(o *rootOptions) *cobra.Command {
	s := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text or an image to every number in a contact list",
		Example: `  wabulk send -f contacts.xlsx -g vip -m "Sale starts today"
  wabulk send -p "9322612069,9876543210" --image promo.png --caption "New menu"
  wabulk send -f contacts.csv -m "test" --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.run(cmd, o)
		},
	}
	s.recipients.register(cmd)
	f := cmd.Flags()
	f.StringVarP(&s.message, "message", "m", "", "text message")
	f.StringVar(&s.image, "image", "", "image file (.jpg, .jpeg, .png, .gif, .webp)")
	f.StringVar(&s.caption, "caption", "", "image caption")
	f.StringVar(&s.name, "name", "cli", "run name shown in logs and notifications")
	f.BoolVar(&s.dryRun, "dry-run", false, "log sends instead of calling the sidecar")
	f.BoolVar(&s.asJSON, "json", false, "print the run report as JSON")
	f.DurationVar(&s.cooldown, "cooldown", -1, "pause between sends on one session (overrides dispatch.cooldown)")
	cmd.MarkFlagsMutuallyExclusive("message", "image")
	cmd.MarkFlagsOneRequired("message", "image")
	return cmd
}

func (s *sendOptions) payload() dispatch.Payload {
	return dispatch.Payload{Text: s.message, ImagePath: strings.TrimSpace(s.image), Caption: s.caption}
}

func (s *sendOptions) override(c *config.Config) {
	if s.dryRun {
		c.Channel.Driver = "dryrun"
	}
	if s.cooldown >= 0 {
		c.Dispatch.Cooldown = s.cooldown.String()
	}
}

func (s *sendOptions) run(cmd *cobra.Command, o *rootOptions) error {
	payload := s.payload()
	if err := payload.Validate(); err != nil {
		return invalid(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := o.bootstrap(cmd, s.override)
	if err != nil {
		return err
	}
	a, err := b.Build()
	if err != nil {
		_ = b.Close()
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	res, err := s.recipients.load(ctx, a.Loader())
	if err != nil {
		return err
	}
	if !s.asJSON {
		printContacts(o.out, res)
	}
	if len(res.Numbers) == 0 {
		return invalid(fmt.Errorf("%w: no valid phone numbers found (%d rejected)", dispatch.ErrNoTasks, len(res.Rejected)))
	}

	rep, err := a.Send(ctx, s.name, dispatch.NewTasks(res.Numbers, payload), res.Rejected)
	if err != nil {
		if errors.Is(err, context.Canceled) && rep == nil {
			return errors.New("cancelled before the run started")
		}
		return err
	}

	if s.asJSON {
		if err := writeJSON(o.out, rep); err != nil {
			return err
		}
	} else {
		printReport(o.out, rep)
	}
	if rep.Classification == dispatch.AllFailed {
		return &exitError{code: ExitAllFailed, err: fmt.Errorf("run %s: every send failed", rep.ID)}
	}
	return nil
}

func printReport(w io.Writer, rep *dispatch.RunReport) {
	fmt.Fprintf(w, "run %s: %s\n", rep.ID, rep.Classification)
	fmt.Fprintf(w, "sent %d/%d, failed %d", rep.Succeeded, len(rep.Outcomes), rep.Failed)
	if rep.Skipped > 0 {
		fmt.Fprintf(w, " (%d skipped, run cancelled)", rep.Skipped)
	}
	fmt.Fprintln(w)
	for _, out := range rep.Outcomes {
		if out.Status == dispatch.Success {
			continue
		}
		fmt.Fprintf(w, "  ✗ %s: %s\n", out.Recipient.E164(), out.Reason)
	}
	if rep.AuditFailures > 0 {
		fmt.Fprintf(w, "warning: %d audit records could not be written\n", rep.AuditFailures)
	}
	fmt.Fprintf(w, "took %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
}
