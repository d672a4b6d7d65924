package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	sshconfig "github.com/kevinburke/ssh_config"

	"github.com/agent462/netmaint/internal/pathutil"
)

// ClientConfig holds options for creating an SSH client.
type ClientConfig struct {
	// User is the login sent to the device.
	User string

	// Password answers both password and keyboard-interactive prompts.
	Password string

	// Port overrides the SSH port. If zero, resolved from
	// ~/.ssh/config or defaults to 22.
	Port int

	// ConnectTimeout bounds TCP connect plus SSH handshake. Zero means no
	// limit beyond the context.
	ConnectTimeout time.Duration

	// AcceptUnknownHosts skips host key verification entirely.
	AcceptUnknownHosts bool

	// KnownHostsFile overrides ~/.ssh/known_hosts.
	KnownHostsFile string

	// HostKeyCallback overrides the default host key verification.
	// If nil, knownhosts is used (with AcceptUnknownHosts controlling unknowns).
	HostKeyCallback ssh.HostKeyCallback
}

// Client wraps an SSH connection to a single device.
type Client struct {
	host      string
	sshClient *ssh.Client
}

// Dial connects and authenticates to host. The returned error is the raw
// transport or handshake error; callers classify it with IsAuthFailure.
func Dial(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	addr := resolveAddr(host, conf)

	hostKeyCallback, err := resolveHostKeyCallback(conf)
	if err != nil {
		return nil, fmt.Errorf("host key callback: %w", err)
	}

	sshConf := &ssh.ClientConfig{
		User:            conf.User,
		Auth:            buildAuthMethods(conf),
		HostKeyCallback: hostKeyCallback,
		Timeout:         conf.ConnectTimeout,
		Config:          legacyAlgorithms(),
	}

	if conf.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.ConnectTimeout)
		defer cancel()
	}

	conn, err := dialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// Perform SSH handshake with context cancellation.
	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &Client{
		host:      host,
		sshClient: ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

// Close closes the underlying SSH connection.
func (c *Client) Close() error {
	if c.sshClient == nil {
		return nil
	}
	return c.sshClient.Close()
}

// Host returns the hostname this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// resolveAddr builds host:port, preferring the explicit port, then
// ~/.ssh/config, then 22.
func resolveAddr(host string, conf ClientConfig) string {
	port := conf.Port
	if port == 0 {
		if portStr := sshconfig.Get(host, "Port"); portStr != "" {
			port, _ = strconv.Atoi(portStr)
		}
	}
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// buildAuthMethods answers password and keyboard-interactive challenges
// with the same secret. Older IOS images only offer the latter.
func buildAuthMethods(conf ClientConfig) []ssh.AuthMethod {
	password := conf.Password
	return []ssh.AuthMethod{
		ssh.Password(password),
		ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = password
			}
			return answers, nil
		}),
	}
}

// legacyAlgorithms enables the CBC ciphers and SHA-1 key exchanges that
// older switches still require.
func legacyAlgorithms() ssh.Config {
	supported := ssh.SupportedAlgorithms()
	insecure := ssh.InsecureAlgorithms()
	return ssh.Config{
		Ciphers:      append(append([]string{}, supported.Ciphers...), insecure.Ciphers...),
		KeyExchanges: append(append([]string{}, supported.KeyExchanges...), insecure.KeyExchanges...),
		MACs:         append(append([]string{}, supported.MACs...), insecure.MACs...),
	}
}

// resolveHostKeyCallback builds the host key callback.
func resolveHostKeyCallback(conf ClientConfig) (ssh.HostKeyCallback, error) {
	if conf.HostKeyCallback != nil {
		return conf.HostKeyCallback, nil
	}

	if conf.AcceptUnknownHosts {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	knownHostsPath := pathutil.ExpandHome(conf.KnownHostsFile)
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}

	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no known_hosts file found at %s; use --insecure to skip host key verification", knownHostsPath)
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// dialContext dials a network address with context cancellation support.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, addr)
}

// newClientConn performs the SSH handshake with context cancellation.
func newClientConn(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	}
}
