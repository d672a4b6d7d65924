package ssh

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/agent462/netmaint/internal/logging"
)

// MaxAuthAttempts bounds login retries. Devices commonly lock an account
// after five failures inside a short window.
const MaxAuthAttempts = 4

// LinearBackOff waits Initial, Initial+Step, Initial+2*Step, ... and
// stops after MaxAttempts values.
type LinearBackOff struct {
	Initial     time.Duration
	Step        time.Duration
	MaxAttempts int

	attempt int
}

// NewAuthBackOff returns the login retry schedule: 0.5s, 1s, 1.5s, 2s.
func NewAuthBackOff() backoff.BackOff {
	return &LinearBackOff{
		Initial:     500 * time.Millisecond,
		Step:        500 * time.Millisecond,
		MaxAttempts: MaxAuthAttempts,
	}
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	if b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts {
		return backoff.Stop
	}
	d := b.Initial + time.Duration(b.attempt)*b.Step
	b.attempt++
	return d
}

func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Target is where Establish dials for a maintenance hostname.
type Target struct {
	Address string
	Port    int
}

// Handshaker opens authenticated, dialect-tagged sessions.
type Handshaker struct {
	// Client carries the transport settings. User and Password are filled
	// in per call.
	Client ClientConfig

	CommandTimeout time.Duration

	// Resolve maps a maintenance hostname to a dial target. Nil dials the
	// hostname directly.
	Resolve func(host string) Target

	Logger     *zap.Logger
	Sleep      SleepFunc
	NewBackOff func() backoff.BackOff
}

// Establish connects to host, retrying refused logins on a linear
// backoff, then probes the device to pick a dialect.
//
// Refused credentials after MaxAuthAttempts yield
// *AuthenticationFailedError; any other fault yields
// *ConnectionFailedError without retrying. The returned entries record
// the login and the chosen dialect for the caller's host log.
func (h *Handshaker) Establish(ctx context.Context, host, login, password string) (*Session, []logging.Entry, error) {
	logger := h.logger()
	var logs []logging.Entry

	address, conf := h.clientConfig(host, login, password)

	bo := backoff.WithContext(h.newBackOff(), ctx)
	var client *Client
	for attempt := 1; ; attempt++ {
		c, err := Dial(ctx, address, conf)
		if err == nil {
			client = c
			break
		}
		if !IsAuthFailure(err) {
			return nil, logs, &ConnectionFailedError{Host: host, Err: WrapConnectError(host, err)}
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return nil, logs, &ConnectionFailedError{Host: host, Err: err}
		}
		if serr := h.sleep(ctx, wait); serr != nil {
			return nil, logs, &ConnectionFailedError{Host: host, Err: serr}
		}
		logger.Error("login attempt failed",
			zap.String("host", host),
			zap.Int("attempt", attempt),
			zap.Duration("waited", wait),
		)
		if attempt >= MaxAuthAttempts {
			return nil, logs, &AuthenticationFailedError{Host: host, Attempts: attempt, Err: err}
		}
	}

	logs = append(logs, logging.Entryf(logging.Info, "Login on switch %s", host))

	sess, err := client.OpenShell(ctx, h.CommandTimeout)
	if err != nil {
		client.Close()
		return nil, logs, &ConnectionFailedError{Host: host, Err: err}
	}
	sess.Autoinit(ctx)

	dialect, err := h.probe(ctx, sess)
	if err != nil {
		if ctx.Err() != nil {
			sess.Close()
			return nil, logs, &ConnectionFailedError{Host: host, Err: ctx.Err()}
		}
		logs = append(logs, logging.Entryf(logging.Debug, "%s %v, falling back to %s", host, err, DefaultDialect))
		dialect, _ = LookupDialect(DefaultDialect)
	}
	sess.SetDialect(dialect)

	logs = append(logs, logging.Entryf(logging.Info, "Using driver %s for host %s", dialect.Name, host))
	return sess, logs, nil
}

// probe runs ProbeCommand and matches its output. Every failure wraps
// ErrUnsupportedProbe.
func (h *Handshaker) probe(ctx context.Context, sess *Session) (Dialect, error) {
	out, err := sess.Execute(ctx, ProbeCommand)
	if err != nil {
		return Dialect{}, &probeError{err: err}
	}
	return DetectDialect(out)
}

type probeError struct{ err error }

func (e *probeError) Error() string { return ErrUnsupportedProbe.Error() + ": " + e.err.Error() }

func (e *probeError) Unwrap() []error { return []error{ErrUnsupportedProbe, e.err} }

func (h *Handshaker) clientConfig(host, login, password string) (string, ClientConfig) {
	conf := h.Client
	conf.User = login
	conf.Password = password

	address := host
	if h.Resolve != nil {
		t := h.Resolve(host)
		if t.Address != "" {
			address = t.Address
		}
		if t.Port != 0 {
			conf.Port = t.Port
		}
	}
	return address, conf
}

func (h *Handshaker) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handshaker) sleep(ctx context.Context, d time.Duration) error {
	if h.Sleep == nil {
		return Sleep(ctx, d)
	}
	return h.Sleep(ctx, d)
}

func (h *Handshaker) newBackOff() backoff.BackOff {
	if h.NewBackOff == nil {
		return NewAuthBackOff()
	}
	return h.NewBackOff()
}
