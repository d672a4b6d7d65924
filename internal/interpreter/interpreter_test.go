package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent462/netmaint/internal/logging"
	"github.com/agent462/netmaint/internal/ssh"
)

type fakeShell struct {
	driver  string
	replies map[string]string
	reject  map[string]bool
	broken  map[string]bool

	sent     []string
	executed []string
	closed   bool
}

func newFakeShell(driver string) *fakeShell {
	return &fakeShell{
		driver:  driver,
		replies: map[string]string{},
		reject:  map[string]bool{},
		broken:  map[string]bool{},
	}
}

func (f *fakeShell) Execute(_ context.Context, cmd string) (string, error) {
	f.executed = append(f.executed, cmd)
	if f.broken[cmd] {
		return "", fmt.Errorf("execute %q: %w", cmd, io.EOF)
	}
	raw := cmd + "\n" + f.replies[cmd] + "\nsw1#"
	if f.reject[cmd] {
		return raw, &ssh.CommandRejectedError{Command: cmd, Message: "% Invalid input"}
	}
	return raw, nil
}

func (f *fakeShell) Send(data string) error {
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeShell) Driver() string        { return f.driver }
func (f *fakeShell) SetDriver(name string) { f.driver = name }
func (f *fakeShell) Close() error          { f.closed = true; return nil }

type fakeConnector struct {
	shell *fakeShell
	logs  []logging.Entry
	err   error
}

func (c *fakeConnector) Connect(context.Context, string, string, string) (Shell, []logging.Entry, error) {
	if c.err != nil {
		return nil, c.logs, c.err
	}
	return c.shell, c.logs, nil
}

type noSleep struct{ slept []time.Duration }

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.slept = append(n.slept, d)
	return ctx.Err()
}

func newTestInterpreter(shell *fakeShell, opts ...Option) (*Interpreter, *bytes.Buffer, *noSleep) {
	console := &bytes.Buffer{}
	ns := &noSleep{}
	base := []Option{WithConsole(console), WithSleep(ns.sleep), WithPrompter(Auto(true))}
	in := New(&fakeConnector{shell: shell}, append(base, opts...)...)
	return in, console, ns
}

func labels(r *HostResult) []string {
	var out []string
	for _, c := range r.Commands {
		out = append(out, c.Command)
	}
	return out
}

func hasLog(r *HostResult, sev logging.Severity, substr string) bool {
	for _, e := range r.Logs {
		if e.Severity == sev && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestRunRecordsOutputs(t *testing.T) {
	shell := newFakeShell("ios")
	shell.replies["show clock"] = "12:00:00 UTC"
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{Host: "sw1", Commands: []string{"show clock"}})
	require.NoError(t, err)

	assert.Equal(t, "ios", res.Driver)
	assert.True(t, res.StatusOK)
	assert.True(t, res.AllCommandsOK)
	require.Len(t, res.Commands, 1)
	assert.Equal(t, "12:00:00 UTC", *res.Commands[0].Output)
	assert.True(t, shell.closed, "shell should be closed after the run")
}

func TestRunConfModeAndSave(t *testing.T) {
	shell := newFakeShell("nxos")
	in, _, _ := newTestInterpreter(shell)

	_, err := in.Run(context.Background(), Job{
		Host:     "n9k",
		Commands: []string{"feature lacp"},
		ConfMode: true,
		Save:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"configure terminal", "feature lacp", "end", "copy running-config startup-config"}, shell.executed)
}

func TestRunAbortOnError(t *testing.T) {
	shell := newFakeShell("ios")
	shell.reject["bad"] = true
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{
		Host:         "sw1",
		Commands:     []string{"show clock", "bad", "show version"},
		AbortOnError: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"show clock", "bad"}, labels(res))
	assert.Nil(t, res.Commands[1].Output)
	assert.False(t, res.AllCommandsOK)
	assert.True(t, res.StatusOK, "a rejected command does not fail the host")
	assert.True(t, hasLog(res, logging.Error, "sw1 Command bad Failed with error"))
}

func TestRunContinuesWithoutAbort(t *testing.T) {
	shell := newFakeShell("ios")
	shell.reject["bad"] = true
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{Host: "sw1", Commands: []string{"bad", "show clock"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad", "show clock"}, labels(res))
	assert.False(t, res.AllCommandsOK)
	assert.Equal(t, 1, res.FailedCommands())
}

func TestRunIgnoreErrorOverridesAbort(t *testing.T) {
	shell := newFakeShell("ios")
	shell.reject["bad"] = true
	shell.reject["worse"] = true
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{
		Host:         "sw1",
		Commands:     []string{"--ignore-error", "bad", "worse", "never"},
		AbortOnError: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad", "worse"}, labels(res), "ignore-error covers one command only")
	assert.True(t, hasLog(res, logging.Debug, "Ignoring next line"))
}

func TestRunTransportFaultStopsHost(t *testing.T) {
	shell := newFakeShell("ios")
	shell.broken["show tech"] = true
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{Host: "sw1", Commands: []string{"show tech", "show clock"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"show tech"}, labels(res))
	assert.False(t, res.AllCommandsOK)
}

func TestRunMultiline(t *testing.T) {
	shell := newFakeShell("ios")
	shell.replies[""] = "banner set"
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{
		Host:     "sw1",
		Commands: []string{"--multiline-start", "banner motd ^", "hello", "^", "--multiline-stop"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"banner motd ^\n", "hello\n", "^\n"}, shell.sent)
	require.Len(t, res.Commands, 1)
	assert.Equal(t, "banner motd ^ :: hello :: ^", res.Commands[0].Command)
	assert.Equal(t, "banner set", *res.Commands[0].Output)
}

func TestRunMultilineFlushRejected(t *testing.T) {
	shell := newFakeShell("ios")
	shell.reject[""] = true
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{
		Host:         "sw1",
		Commands:     []string{"--multiline-start", "a", "b", "--multiline-stop", "show clock"},
		AbortOnError: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"--multiline-stop"}, labels(res), "a failed flush is recorded under the directive")
	assert.Nil(t, res.Commands[0].Output)
	assert.False(t, res.AllCommandsOK)
	assert.NotContains(t, shell.executed, "show clock", "abort-on-error stops the host")
	assert.True(t, hasLog(res, logging.Error, "sw1 Command --multiline-stop Failed with error"))
}

func TestRunMultilineFlushRejectedContinues(t *testing.T) {
	shell := newFakeShell("ios")
	shell.reject[""] = true
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{
		Host:     "sw1",
		Commands: []string{"--multiline-start", "a", "--multiline-stop", "show clock"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"--multiline-stop", "show clock"}, labels(res))
	assert.False(t, res.AllCommandsOK)
}

func TestRunPrintNext(t *testing.T) {
	shell := newFakeShell("ios")
	shell.replies["show clock"] = "12:00\nUTC"
	shell.replies["show users"] = "nobody"
	in, console, _ := newTestInterpreter(shell)

	_, err := in.Run(context.Background(), Job{Host: "sw1", Commands: []string{"--print-next", "show clock", "show users"}})
	require.NoError(t, err)
	assert.Equal(t, "show clock returned:\n    12:00\n    UTC\n", console.String())
}

func TestRunSleep(t *testing.T) {
	shell := newFakeShell("ios")
	in, _, ns := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{Host: "sw1", Commands: []string{"--sleep-2", "--sleep-x"}})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second}, ns.slept)
	assert.True(t, hasLog(res, logging.Error, "Wrong timer value x"))
	assert.True(t, hasLog(res, logging.Info, "sleeping for 2 seconds"))
	assert.Empty(t, res.Commands)
}

func TestRunUnknownDirective(t *testing.T) {
	shell := newFakeShell("ios")
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{Host: "sw1", Commands: []string{"--reload"}})
	require.NoError(t, err)
	assert.Empty(t, shell.executed, "unknown directives are never sent")
	assert.True(t, hasLog(res, logging.Error, "Unknown directive, not applied: --reload"))
}

func TestRunPauseDeclined(t *testing.T) {
	shell := newFakeShell("ios")
	in, console, _ := newTestInterpreter(shell, WithPrompter(Auto(false)))

	res, err := in.Run(context.Background(), Job{Host: "sw1", Commands: []string{"show clock", "--pause", "reload"}})
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, []string{"show clock"}, labels(res))
	assert.Contains(t, console.String(), "Stopping it all here.")
}

func TestRunPauseEnd(t *testing.T) {
	shell := newFakeShell("ios")
	in, _, _ := newTestInterpreter(shell, WithPrompter(Auto(false)))

	_, err := in.Run(context.Background(), Job{Host: "sw1", Commands: []string{"show clock"}, PauseEnd: true})
	require.ErrorIs(t, err, ErrAborted)
}

func TestRunForcedDriver(t *testing.T) {
	shell := newFakeShell("ios")
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{Host: "n9k", Driver: "nxos", Commands: []string{"show clock"}, Save: true})
	require.NoError(t, err)
	assert.Equal(t, "nxos", res.Driver)
	assert.True(t, hasLog(res, logging.Debug, "Driver Set Manually to nxos was found ios"))
	assert.Equal(t, "copy running-config startup-config", shell.executed[len(shell.executed)-1])
}

func TestRunUnknownDriver(t *testing.T) {
	shell := newFakeShell("ios")
	in, _, _ := newTestInterpreter(shell)

	res, err := in.Run(context.Background(), Job{Host: "mx01", Driver: "junos", Commands: []string{"show clock"}})
	require.NoError(t, err)
	assert.False(t, res.StatusOK)
	assert.Empty(t, shell.executed)
	assert.True(t, hasLog(res, logging.Error, "mx01 Unknown driver"))
}

func TestRunConnectionFailure(t *testing.T) {
	conn := &fakeConnector{err: &ssh.ConnectionFailedError{Host: "sw1", Err: errors.New("connection refused")}}
	in := New(conn, WithConsole(io.Discard))

	res, err := in.Run(context.Background(), Job{Host: "sw1", Commands: []string{"show clock"}})
	require.NoError(t, err)
	assert.False(t, res.StatusOK)
	assert.Equal(t, UnknownDriver, res.Driver)
	assert.True(t, hasLog(res, logging.Critical, "sw1 Connection Failed"))
	assert.True(t, hasLog(res, logging.Debug, "*ssh.ConnectionFailedError"))
}

func TestRunAuthFailure(t *testing.T) {
	authErr := &ssh.AuthenticationFailedError{Host: "sw1", Attempts: 4, Err: errors.New("ssh: unable to authenticate")}
	login := []logging.Entry{logging.Entryf(logging.Info, "attempted")}

	in := New(&fakeConnector{err: authErr, logs: login}, WithConsole(io.Discard))
	res, err := in.Run(context.Background(), Job{Host: "sw1"})
	require.ErrorAs(t, err, &authErr)
	assert.False(t, res.StatusOK)
	assert.Equal(t, "attempted", res.Logs[0].Message, "handshake entries come first")

	res, err = in.Run(context.Background(), Job{Host: "sw1", ContinueOnLoginFailure: true})
	require.NoError(t, err)
	assert.False(t, res.StatusOK)
}

func TestRunCancelled(t *testing.T) {
	shell := newFakeShell("ios")
	in, _, _ := newTestInterpreter(shell)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := in.Run(ctx, Job{Host: "sw1", Commands: []string{"show clock"}})
	require.NoError(t, err)
	assert.Empty(t, shell.executed)
	assert.True(t, hasLog(res, logging.Warning, "interrupted"))
}

func TestHostResultJSON(t *testing.T) {
	res := NewHostResult()
	res.Driver = "ios"
	res.record("show clock", "12:00")
	res.recordFailure("bad")
	res.Logf(logging.Info, "Login on switch sw1")

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"driver": "ios",
		"status_ok": true,
		"all_commands_ok": false,
		"commands": [{"show clock": "12:00"}, {"bad": null}],
		"logs": [["info", "Login on switch sw1"]]
	}`, string(data))

	var back HostResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, res, &back)
}

func TestDegraded(t *testing.T) {
	res := Degraded("%s worker crashed: %v", "sw1", "boom")
	assert.False(t, res.StatusOK)
	assert.Equal(t, UnknownDriver, res.Driver)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, logging.Critical, res.Logs[0].Severity)
}

func TestLinePrompter(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewLinePrompter(strings.NewReader("y\nno\n"), out)

	ok, err := p.Confirm(context.Background(), PauseQuestion)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Confirm(context.Background(), PauseQuestion)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Confirm(context.Background(), PauseQuestion)
	require.NoError(t, err)
	assert.False(t, ok, "end of input is a no")
	assert.Equal(t, strings.Repeat(PauseQuestion, 3), out.String())
}

func TestLinePrompterAfterCancel(t *testing.T) {
	pr, pw := io.Pipe()
	p := NewLinePrompter(pr, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := p.Confirm(ctx, PauseQuestion)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)

	go func() {
		_, _ = io.WriteString(pw, "yes\n")
		pw.Close()
	}()

	ok, err = p.Confirm(context.Background(), PauseQuestion)
	require.NoError(t, err)
	assert.True(t, ok, "the line typed after a cancelled question answers the next one")

	ok, err = p.Confirm(context.Background(), PauseQuestion)
	require.NoError(t, err)
	assert.False(t, ok, "closed input is a no")

	ok, err = p.Confirm(context.Background(), PauseQuestion)
	require.NoError(t, err)
	assert.False(t, ok, "later questions do not block once input is gone")
}
