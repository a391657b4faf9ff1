// Package commands implements the wabulk command line.
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"wabulk/internal/app"
	"wabulk/internal/config"
	"wabulk/internal/contacts"
	"wabulk/internal/dispatch"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitInvalid   = 2 // bad input or config; nothing was sent
	ExitAllFailed = 3 // the run finished without a single success
)

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalid(err error) error { return &exitError{code: ExitInvalid, err: err} }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if contacts.IsValidation(err) ||
		errors.Is(err, dispatch.ErrNoTasks) ||
		errors.Is(err, dispatch.ErrInvalidPayload) {
		return ExitInvalid
	}
	return ExitFailure
}

type rootOptions struct {
	configPath string
	envFiles   []string
	out        io.Writer
}

// Execute runs the command line with os.Args.
func Execute() error {
	return NewRoot(os.Stdout).Execute()
}

// NewRoot builds the command tree writing results to out.
func NewRoot(out io.Writer) *cobra.Command {
	o := &rootOptions{out: out}
	root := &cobra.Command{
		Use:           "wabulk",
		Short:         "Bulk WhatsApp text and image dispatch with an audit log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "./config.json", "config file (JSON or YAML); defaults apply when the default path is missing")
	pf.StringSliceVar(&o.envFiles, "env-file", []string{".env"}, "env files loaded before the config; missing files are skipped")

	root.AddCommand(sendCmd(o), checkCmd(o), logCmd(o), serveCmd(o))
	return root
}

func (o *rootOptions) appOptions(cmd *cobra.Command, override func(*config.Config)) app.Options {
	return app.Options{
		ConfigPath:     o.configPath,
		ConfigRequired: cmd.Flags().Changed("config"),
		EnvFiles:       o.envFiles,
		Override:       override,
	}
}

func (o *rootOptions) bootstrap(cmd *cobra.Command, override func(*config.Config)) (*app.Base, error) {
	b, err := app.Bootstrap(o.appOptions(cmd, override))
	if err != nil {
		return nil, invalid(err)
	}
	return b, nil
}

func (o *rootOptions) printf(format string, args ...any) {
	fmt.Fprintf(o.out, format, args...)
}
