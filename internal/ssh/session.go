package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultPrompt matches IOS and NX-OS exec and config prompts such as
// "sw1>", "sw1#" and "sw1(config-if)#" at the end of the output.
var DefaultPrompt = regexp.MustCompile(`(?:^|\n)[\-\w+.:/]+(?:\([^)]+\))?[>#] ?$`)

// defaultErrorPrompts flag responses that IOS-like devices print when
// they refuse a command.
func defaultErrorPrompts() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`%Error`),
		regexp.MustCompile(`(?i)invalid input`),
		regexp.MustCompile(`(?i)(?:incomplete|ambiguous) command`),
		regexp.MustCompile(`(?i)connection timed out`),
		regexp.MustCompile(`(?i)^%.*\bnot found`),
	}
}

// Session is an interactive, line-oriented shell on one device. It is
// not safe for concurrent use; one interpreter run owns it.
type Session struct {
	host    string
	client  *Client
	sess    *ssh.Session
	stdin   io.WriteCloser
	out     *shellBuffer
	done    chan struct{}
	timeout time.Duration

	prompt *regexp.Regexp
	// errorPrompts holds the defaults and AddErrorPrompt extras; the
	// dialect's own patterns are applied on top by ErrorPrompts.
	errorPrompts []*regexp.Regexp
	dialect      Dialect

	// pending counts newlines written since the last response was taken.
	// Each one is echoed by the device, so a response is complete once at
	// least that many newlines arrived and the output ends in a prompt.
	pending  int
	response string
}

// OpenShell requests a vt100 PTY and an interactive shell, then waits
// for the first prompt. commandTimeout bounds every later Execute.
func (c *Client) OpenShell(ctx context.Context, commandTimeout time.Duration) (*Session, error) {
	sess, err := c.sshClient.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("vt100", 80, 200, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	out := newShellBuffer()
	sess.Stdout = out
	sess.Stderr = out

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &Session{
		host:         c.host,
		client:       c,
		sess:         sess,
		stdin:        stdin,
		out:          out,
		done:         make(chan struct{}),
		timeout:      commandTimeout,
		prompt:       DefaultPrompt,
		errorPrompts: defaultErrorPrompts(),
	}
	go func() {
		sess.Wait()
		close(s.done)
	}()

	if err := s.waitPrompt(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("waiting for first prompt: %w", err)
	}
	s.out.Take()
	return s, nil
}

// Host returns the device this session is attached to.
func (s *Session) Host() string {
	return s.host
}

// Execute sends cmd and waits for the prompt. The raw response (echo
// line through prompt line, carriage returns removed) is returned and
// also kept for Response. A response line matching an error prompt
// yields a *CommandRejectedError alongside the response.
func (s *Session) Execute(ctx context.Context, cmd string) (string, error) {
	if err := s.write(cmd + "\n"); err != nil {
		return "", fmt.Errorf("send %q: %w", cmd, err)
	}

	err := s.waitPrompt(ctx)
	s.response = strings.ReplaceAll(s.out.Take(), "\r", "")
	s.pending = 0
	if err != nil {
		return s.response, fmt.Errorf("execute %q: %w", cmd, err)
	}

	if msg, ok := s.rejection(s.response); ok {
		return s.response, &CommandRejectedError{Command: cmd, Message: msg}
	}
	return s.response, nil
}

// Send writes data without waiting for a response. Its output is
// collected by the next Execute.
func (s *Session) Send(data string) error {
	if err := s.write(data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Response returns the raw text of the last Execute.
func (s *Session) Response() string {
	return s.response
}

// Autoinit disables paging and line wrapping. Devices that reject the
// commands are left as they are.
func (s *Session) Autoinit(ctx context.Context) {
	for _, cmd := range []string{"terminal length 0", "terminal width 0"} {
		if _, err := s.Execute(ctx, cmd); err != nil && ctx.Err() != nil {
			return
		}
	}
}

// Dialect returns the dialect currently applied to the session.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// Driver returns the current dialect name.
func (s *Session) Driver() string {
	return s.dialect.Name
}

// SetDialect tags the session with d. Error prompts of a previously set
// dialect stop applying and those of d take their place.
func (s *Session) SetDialect(d Dialect) {
	s.dialect = d
}

// SetDriver forces a dialect by name, error prompts included. Unknown
// names are kept as-is so the caller can refuse to frame commands for
// them.
func (s *Session) SetDriver(name string) {
	if d, ok := LookupDialect(name); ok {
		s.dialect = d
		return
	}
	s.dialect = Dialect{Name: name}
}

// AddErrorPrompt registers extra patterns checked against each response
// line.
func (s *Session) AddErrorPrompt(res ...*regexp.Regexp) {
	s.errorPrompts = append(s.errorPrompts, res...)
}

// ErrorPrompts returns the active error patterns.
func (s *Session) ErrorPrompts() []*regexp.Regexp {
	active := make([]*regexp.Regexp, 0, len(s.errorPrompts)+len(s.dialect.ErrorPrompts))
	active = append(active, s.errorPrompts...)
	return append(active, s.dialect.ErrorPrompts...)
}

// Close ends the shell and the underlying connection.
func (s *Session) Close() error {
	s.stdin.Close()
	s.sess.Close()
	return s.client.Close()
}

func (s *Session) write(data string) error {
	select {
	case <-s.done:
		return io.ErrClosedPipe
	default:
	}
	if _, err := io.WriteString(s.stdin, data); err != nil {
		return err
	}
	s.pending += strings.Count(data, "\n")
	return nil
}

// rejection checks every line between the echo and the prompt.
func (s *Session) rejection(response string) (string, bool) {
	lines := Lines(response)
	if len(lines) <= 2 {
		return "", false
	}
	prompts := s.ErrorPrompts()
	for _, line := range lines[1 : len(lines)-1] {
		for _, re := range prompts {
			if re.MatchString(line) {
				return strings.TrimSpace(line), true
			}
		}
	}
	return "", false
}

func (s *Session) ready() bool {
	text := strings.ReplaceAll(s.out.String(), "\r", "")
	return strings.Count(text, "\n") >= s.pending && s.prompt.MatchString(text)
}

func (s *Session) waitPrompt(ctx context.Context) error {
	var timeout <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if s.ready() {
			return nil
		}
		select {
		case <-s.out.notify:
		case <-s.done:
			if s.ready() {
				return nil
			}
			return errors.New("session closed by device")
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("%w after %s", ErrPromptTimeout, s.timeout)
		}
	}
}
