package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"wabulk/internal/dispatch"
)

func checkCmd(o *rootOptions) *cobra.Command {
	var (
		recipients recipientFlags
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load a contact list and report which numbers would be sent to",
		Long: `check runs phone column detection and normalization exactly as send does,
then prints the chosen column, every rejected row and every number that was
adjusted from an ambiguous length. Nothing is sent and nothing is logged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := o.bootstrap(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			res, err := recipients.load(cmd.Context(), b.Loader())
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(o.out, res); err != nil {
					return err
				}
			} else {
				printContacts(o.out, res)
			}
			if len(res.Numbers) == 0 {
				return invalid(fmt.Errorf("%w: no valid phone numbers found", dispatch.ErrNoTasks))
			}
			return nil
		},
	}
	recipients.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
