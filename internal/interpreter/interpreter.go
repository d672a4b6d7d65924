// Package interpreter runs one host's command list over a device shell,
// applying in-band directives and recording a HostResult.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agent462/netmaint/internal/logging"
	"github.com/agent462/netmaint/internal/ssh"
)

// Job is one host's work order.
type Job struct {
	Host     string
	Login    string
	Password string

	// Driver forces a dialect instead of the probed one.
	Driver string

	Commands []string

	AbortOnError           bool
	ConfMode               bool
	Save                   bool
	ContinueOnLoginFailure bool
	PauseEnd               bool
}

// Interpreter executes Jobs. One Interpreter may serve many goroutines;
// each Run owns its own Shell.
type Interpreter struct {
	connector Connector
	prompter  Prompter
	console   io.Writer
	sleep     ssh.SleepFunc
	logger    *zap.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithPrompter sets who answers pause questions.
func WithPrompter(p Prompter) Option {
	return func(in *Interpreter) { in.prompter = p }
}

// WithConsole sets where --print-next output and abort notices go.
func WithConsole(w io.Writer) Option {
	return func(in *Interpreter) { in.console = w }
}

// WithSleep replaces the --sleep-N timer.
func WithSleep(fn ssh.SleepFunc) Option {
	return func(in *Interpreter) { in.sleep = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(in *Interpreter) { in.logger = l }
}

// New returns an Interpreter that opens shells through c.
func New(c Connector, opts ...Option) *Interpreter {
	in := &Interpreter{
		connector: c,
		console:   os.Stdout,
		sleep:     ssh.Sleep,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.prompter == nil {
		in.prompter = NewLinePrompter(os.Stdin, in.console)
	}
	return in
}

// Run connects to job.Host and executes its commands.
//
// The result is always non-nil. The error is non-nil only when the whole
// maintenance must stop: ErrAborted from a pause, or an authentication
// failure when job.ContinueOnLoginFailure is false. Every other problem
// is recorded in the result.
func (in *Interpreter) Run(ctx context.Context, job Job) (*HostResult, error) {
	host := job.Host
	res := NewHostResult()

	shell, logs, err := in.connector.Connect(ctx, host, job.Login, job.Password)
	res.Logs = append(res.Logs, logs...)
	if err != nil {
		res.StatusOK = false
		res.Logf(logging.Critical, "%s Connection Failed : %v", host, err)
		if ssh.IsAuthFailure(err) {
			if job.ContinueOnLoginFailure {
				return res, nil
			}
			return res, err
		}
		res.Logf(logging.Debug, "%s details:\n%s", host, errorChain(err))
		return res, nil
	}
	defer shell.Close()

	res.Driver = shell.Driver()
	if job.Driver != "" {
		detected := res.Driver
		shell.SetDriver(job.Driver)
		res.Driver = job.Driver
		res.Logf(logging.Debug, "%s Driver Set Manually to %s was found %s", host, job.Driver, detected)
	}

	dialect, ok := ssh.LookupDialect(res.Driver)
	if !ok {
		res.StatusOK = false
		res.Logf(logging.Error, "%s Unknown driver: %v", host, fmt.Errorf("%w %q", ssh.ErrUnsupportedDialect, res.Driver))
		return res, nil
	}

	var st State
	for _, line := range dialect.Wrap(job.Commands, job.ConfMode, job.Save) {
		if err := ctx.Err(); err != nil {
			res.Logf(logging.Warning, "%s run interrupted: %v", host, err)
			return res, nil
		}
		var eff Effect
		st, eff = Step(st, line)
		stop, err := in.apply(ctx, shell, job, res, eff)
		if err != nil {
			return res, err
		}
		if stop {
			return res, nil
		}
	}

	if job.PauseEnd {
		if err := in.pause(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// apply performs one Effect. stop ends this host's run; err ends the
// whole maintenance.
func (in *Interpreter) apply(ctx context.Context, shell Shell, job Job, res *HostResult, eff Effect) (stop bool, err error) {
	host := job.Host
	switch eff.Kind {
	case EffectMultilineStart:
		res.Logf(logging.Debug, "%s Entering multiline", host)

	case EffectMultilineLine:
		if err := shell.Send(eff.Line + "\n"); err != nil {
			return in.fail(res, host, eff.Line, err, true), nil
		}

	case EffectMultilineStop:
		res.Logf(logging.Debug, "%s Leaving multiline", host)
		raw, err := shell.Execute(ctx, "")
		if err != nil {
			return in.fail(res, host, eff.Line, err, job.AbortOnError), nil
		}
		res.record(eff.Label, ssh.StripFraming(raw))

	case EffectSleep:
		if eff.BadValue != "" {
			res.Logf(logging.Error, "%s Wrong timer value %s I will pause for %d seconds.", host, eff.BadValue, eff.Seconds)
		}
		res.Logf(logging.Info, "%s sleeping for %d seconds", host, eff.Seconds)
		// A cancelled sleep surfaces at the top of the next iteration.
		_ = in.sleep(ctx, time.Duration(eff.Seconds)*time.Second)

	case EffectPause:
		if err := in.pause(ctx); err != nil {
			return true, err
		}

	case EffectIgnoreError:
		res.Logf(logging.Debug, "%s Ignoring next line potential error", host)

	case EffectPrintNext:

	case EffectUnknownDirective:
		res.Logf(logging.Error, "%s Unknown directive, not applied: %s", host, eff.Line)

	case EffectCommand:
		in.logger.Debug("executing", zap.String("host", host), zap.String("command", eff.Line))
		raw, err := shell.Execute(ctx, eff.Line)
		if err != nil {
			return in.fail(res, host, eff.Line, err, job.AbortOnError && !eff.IgnoreError), nil
		}
		out := ssh.StripFraming(raw)
		res.record(eff.Line, out)
		if eff.PrintOutput {
			fmt.Fprintf(in.console, "%s returned:\n    %s\n", eff.Line, strings.Join(ssh.Lines(out), "\n    "))
		}
	}
	return false, nil
}

// fail records a failed command. A device rejection stops the host only
// when abort is set; a transport fault always does, since the shell is
// no longer in a known state.
func (in *Interpreter) fail(res *HostResult, host, label string, err error, abort bool) bool {
	res.recordFailure(label)
	res.Logf(logging.Error, "%s Command %s Failed with error : %v", host, label, err)

	var rejected *ssh.CommandRejectedError
	if !errors.As(err, &rejected) {
		return true
	}
	return abort
}

func (in *Interpreter) pause(ctx context.Context) error {
	ok, err := in.prompter.Confirm(ctx, PauseQuestion)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if !ok {
		fmt.Fprintln(in.console, "Stopping it all here.")
		return ErrAborted
	}
	return nil
}

// errorChain lists each layer of err on its own line.
func errorChain(err error) string {
	var b strings.Builder
	depth := 0
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		fmt.Fprintf(&b, "%s%T: %v\n", strings.Repeat("  ", depth), e, e)
		depth++
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		}
		depth--
	}
	walk(err)
	return strings.TrimRight(b.String(), "\n")
}
