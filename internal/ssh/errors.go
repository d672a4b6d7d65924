package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	// ErrUnsupportedProbe means the dialect probe failed or matched no
	// known signature. Establish recovers from it by using DefaultDialect.
	ErrUnsupportedProbe = errors.New("unsupported dialect probe")

	// ErrUnsupportedDialect means a dialect has no command framing rules.
	ErrUnsupportedDialect = errors.New("unsupported dialect")

	// ErrPromptTimeout is returned when the device never shows a prompt
	// within the command timeout.
	ErrPromptTimeout = errors.New("timed out waiting for prompt")
)

// AuthenticationFailedError is returned once every login attempt was
// refused.
type AuthenticationFailedError struct {
	Host     string
	Attempts int
	Err      error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("%d login failures on %s, be careful your login could be locked", e.Attempts, e.Host)
}

func (e *AuthenticationFailedError) Unwrap() error {
	return e.Err
}

// ConnectionFailedError covers every transport fault other than refused
// credentials.
type ConnectionFailedError struct {
	Host string
	Err  error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error {
	return e.Err
}

// CommandRejectedError is returned by Execute when a line of the
// response matches one of the session's error prompts.
type CommandRejectedError struct {
	Command string
	Message string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("device rejected %q: %s", e.Command, e.Message)
}

// IsAuthFailure reports whether err came from the device refusing the
// credentials, as opposed to a transport problem.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthenticationFailedError
	if errors.As(err, &authErr) {
		return true
	}
	var serverAuth *ssh.ServerAuthError
	if errors.As(err, &serverAuth) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

// ConnectError wraps a connection error with a user-friendly hint.
type ConnectError struct {
	Host string
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %v\n  hint: %s", e.Host, e.Err, e.Hint)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// WrapConnectError wraps a connection error with a friendly hint.
// If the error doesn't match any known patterns, it's returned as-is.
func WrapConnectError(host string, err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	if IsAuthFailure(err) {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: "check the login and password; repeated failures may lock the account",
		}
	}

	if strings.Contains(msg, "connection refused") {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: "verify SSH is enabled on the device (ip ssh version 2, transport input ssh)",
		}
	}

	// DNS resolution failure.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(msg, "no such host") {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: "verify hostname is correct or add an address under devices in the config",
		}
	}

	if strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "deadline exceeded") {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: "device unreachable; check the management network path",
		}
	}

	if strings.Contains(msg, "no common algorithm") {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: "device offers no supported cipher or key exchange",
		}
	}

	// Known hosts: missing entry.
	if strings.Contains(msg, "no known_hosts") || strings.Contains(msg, "knownhosts") {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: fmt.Sprintf("use --insecure or connect once with: ssh %s", host),
		}
	}

	// Known hosts: key mismatch.
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return &ConnectError{
			Host: host,
			Err:  err,
			Hint: fmt.Sprintf("remove old key with: ssh-keygen -R %s", host),
		}
	}

	return err
}
