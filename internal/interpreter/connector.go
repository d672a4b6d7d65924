package interpreter

import (
	"context"

	"github.com/agent462/netmaint/internal/logging"
	"github.com/agent462/netmaint/internal/ssh"
)

// Shell is an open device session.
type Shell interface {
	Execute(ctx context.Context, cmd string) (string, error)
	Send(data string) error
	Driver() string
	SetDriver(name string)
	Close() error
}

// Connector opens a Shell on a host. The returned entries belong in the
// host log even when err is non-nil.
type Connector interface {
	Connect(ctx context.Context, host, login, password string) (Shell, []logging.Entry, error)
}

// SSHConnector opens sessions through an ssh.Handshaker.
type SSHConnector struct {
	Handshaker *ssh.Handshaker
}

func (c SSHConnector) Connect(ctx context.Context, host, login, password string) (Shell, []logging.Entry, error) {
	sess, logs, err := c.Handshaker.Establish(ctx, host, login, password)
	if err != nil {
		return nil, logs, err
	}
	return sess, logs, nil
}
