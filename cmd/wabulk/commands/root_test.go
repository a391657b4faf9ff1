package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabulk/internal/contacts"
	"wabulk/internal/dispatch"
)

type fixture struct {
	dir    string
	config string
	audit  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		config: filepath.Join(dir, "config.json"),
		audit:  filepath.Join(dir, "message_log.csv"),
	}
	body := fmt.Sprintf(`{
		"logging": {"level": "error", "console": true},
		"channel": {"driver": "dryrun"},
		"dispatch": {"cooldown": "0s"},
		"audit": {"driver": "csv", "path": %q}
	}`, filepath.ToSlash(f.audit))
	require.NoError(t, os.WriteFile(f.config, []byte(body), 0o644))
	return f
}

func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRoot(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", f.config, "--env-file", filepath.Join(f.dir, "none.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCheckPhonesJSON(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "check", "--phones", "9322612069, 09876543210, x", "--json")
	require.NoError(t, err)

	var res contacts.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Numbers, 2)
	assert.Len(t, res.Rejected, 1)
	assert.Equal(t, "919322612069", res.Numbers[0].String())
}

func TestCheckWithoutValidNumbersIsInvalid(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "check", "--phones", "x,--")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))
	assert.Contains(t, out, "rejected: 2")
}

func TestCheckReadsContactFile(t *testing.T) {
	f := newFixture(t)
	csv := filepath.Join(f.dir, "contacts.csv")
	require.NoError(t, os.WriteFile(csv, []byte("name,mobile,group\nA,9322612069,vip\nB,9876543210,staff\n"), 0o644))

	out, err := f.run(t, "check", "-f", csv, "-g", "vip")
	require.NoError(t, err)
	assert.Contains(t, out, "phone column: mobile")
	assert.Contains(t, out, "valid: 1")
}

func TestCheckRequiresRecipients(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "check")
	assert.Error(t, err)
}

func TestSendDryRunWritesAuditLog(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "send", "-p", "9322612069,9876543210", "-m", "Hello", "--name", "test", "--json")
	require.NoError(t, err)

	var rep dispatch.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, dispatch.AllSucceeded, rep.Classification)
	assert.Equal(t, 2, rep.Succeeded)

	out, err = f.run(t, "log", "--json")
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "919322612069", recs[0]["phone"])
	assert.Equal(t, "success", recs[0]["status"])

	out, err = f.run(t, "log", "--phone", "+919876543210")
	require.NoError(t, err)
	assert.Contains(t, out, "+919876543210")
	assert.NotContains(t, out, "+919322612069")
}

func TestSendRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "send", "-p", "x", "-m", "Hello")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))

	_, err = f.run(t, "send", "-p", "9322612069", "--image", filepath.Join(f.dir, "promo.tiff"))
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))

	_, err = f.run(t, "send", "-p", "9322612069", "-m", "a", "--image", "b.png")
	assert.Error(t, err)

	out, err := f.run(t, "log", "--json")
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	assert.Empty(t, recs)
}

func TestLogRejectsBadFilters(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "log", "--since", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))

	_, err = f.run(t, "log", "--status", "pending")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))
}

func TestExplicitConfigMustExist(t *testing.T) {
	f := newFixture(t)
	f.config = filepath.Join(f.dir, "absent.json")
	_, err := f.run(t, "check", "-p", "9322612069")
	require.Error(t, err)
	assert.Equal(t, ExitInvalid, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitInvalid, ExitCode(fmt.Errorf("wrap: %w", dispatch.ErrNoTasks)))
	assert.Equal(t, ExitInvalid, ExitCode(dispatch.ErrInvalidPayload))
	assert.Equal(t, ExitAllFailed, ExitCode(&exitError{code: ExitAllFailed, err: errors.New("all failed")}))
	assert.Equal(t, ExitInvalid, ExitCode(fmt.Errorf("outer: %w", invalid(errors.New("bad")))))
}

func TestImageHelpMatchesAcceptedFormats(t *testing.T) {
	usage := NewRoot(&bytes.Buffer{}).Commands()
	var help string
	for _, c := range usage {
		if c.Name() == "send" {
			help = c.Flags().Lookup("image").Usage
		}
	}
	require.NotEmpty(t, help)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		assert.Contains(t, help, ext)
		// the file is missing, but the format itself passes
		err := dispatch.Payload{ImagePath: "promo" + ext}.Validate()
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "unsupported image format", ext)
	}
	assert.NotContains(t, help, ".bmp")
	assert.ErrorContains(t, dispatch.Payload{ImagePath: "promo.bmp"}.Validate(), "unsupported image format")
}
