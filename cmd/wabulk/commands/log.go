package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"wabulk/internal/audit"
)

func logCmd(o *rootOptions) *cobra.Command {
	var (
		since, until, phoneFilter, status string
		limit                             int
		asJSON                            bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the message log",
		Example: `  wabulk log --since 2024-05-01 --status failed
  wabulk log --phone +919322612069 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var q audit.Query
			for flag, bound := range map[string]struct {
				raw string
				dst *time.Time
			}{"since": {since, &q.Since}, "until": {until, &q.Until}} {
				if strings.TrimSpace(bound.raw) == "" {
					continue
				}
				t, err := audit.ParseTime(bound.raw)
				if err != nil {
					return invalid(fmt.Errorf("--%s: %w", flag, err))
				}
				*bound.dst = t
			}
			q.Phone = strings.TrimPrefix(strings.TrimSpace(phoneFilter), "+")
			switch s := audit.Status(strings.ToLower(strings.TrimSpace(status))); s {
			case "", audit.StatusSuccess, audit.StatusFailed:
				q.Status = s
			default:
				return invalid(fmt.Errorf("--status: want %s or %s", audit.StatusSuccess, audit.StatusFailed))
			}

			b, err := o.bootstrap(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()
			store, err := b.OpenStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			recs, err := store.ReadAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("read message log: %w", err)
			}
			recs = audit.Filter(recs, q)
			if limit > 0 && len(recs) > limit {
				recs = recs[len(recs)-limit:]
			}

			if asJSON {
				return writeJSON(o.out, recs)
			}
			tw := tabwriter.NewWriter(o.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tPHONE\tTYPE\tSTATUS\tCONTENT\tERROR")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t+%s\t%s\t%s\t%s\t%s\n",
					r.Timestamp.Local().Format(audit.TimeLayout), r.Phone, r.Type, r.Status, clip(r.Content, 40), clip(r.Error, 60))
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&since, "since", "", "first timestamp, inclusive (RFC 3339, \"2006-01-02 15:04:05\" or a date)")
	f.StringVar(&until, "until", "", "end timestamp, exclusive")
	f.StringVar(&phoneFilter, "phone", "", "only this number (canonical, with or without +)")
	f.StringVar(&status, "status", "", "success or failed")
	f.IntVarP(&limit, "limit", "n", 0, "show only the last n records")
	f.BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
