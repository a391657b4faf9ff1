package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"wabulk/internal/contacts"
)

// recipientFlags selects the contact list shared by send and check.
type recipientFlags struct {
	file   string
	phones string
	group  string
}

func (f *recipientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "contact file (.csv, .txt, .xlsx) or s3://bucket/key")
	cmd.Flags().StringVarP(&f.phones, "phones", "p", "", "comma or newline separated phone numbers")
	cmd.Flags().StringVarP(&f.group, "group", "g", "", "only rows whose group column matches")
	cmd.MarkFlagsMutuallyExclusive("file", "phones")
	cmd.MarkFlagsOneRequired("file", "phones")
}

func (f *recipientFlags) load(ctx context.Context, l *contacts.Loader) (*contacts.Result, error) {
	if strings.TrimSpace(f.phones) != "" {
		return l.LoadList(contacts.SplitList(f.phones)), nil
	}
	if strings.TrimSpace(f.file) == "" {
		return nil, errors.New("provide --file or --phones")
	}
	return l.Load(ctx, f.file, f.group)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printContacts renders a load result for humans.
func printContacts(w io.Writer, res *contacts.Result) {
	if res.Column != "" {
		fmt.Fprintf(w, "phone column: %s (%s)\n", res.Column, res.Method)
	}
	fmt.Fprintf(w, "rows: %d, valid: %d, rejected: %d, adjusted: %d\n",
		res.Total, len(res.Numbers), len(res.Rejected), len(res.Adjusted))
	for _, r := range res.Rejected {
		fmt.Fprintf(w, "  rejected row %d %q: %s\n", r.Row, r.Raw, r.Reason)
	}
	for _, a := range res.Adjusted {
		fmt.Fprintf(w, "  adjusted row %d %q -> +%s (%s)\n", a.Row, a.Raw, a.Number, a.Rule)
	}
}
