// Package sshtest provides an in-process SSH server that emulates an
// interactive network device shell for tests.
package sshtest

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

// LineHandler answers one line typed at the device prompt. The returned
// text is written before the next prompt; "\n" is converted to "\r\n".
type LineHandler func(line string) string

// Device describes the emulated shell.
type Device struct {
	Hostname string
	Banner   string
	Handler  LineHandler
}

// ServerConfig holds options for a test SSH server.
type ServerConfig struct {
	PasswordAuth string
	NoAuth       bool
	Device       *Device
	AuthAttempts *atomic.Int32
}

// Option configures a test SSH server.
type Option func(*ServerConfig)

// WithPassword configures the server to accept the given password.
func WithPassword(pw string) Option {
	return func(c *ServerConfig) { c.PasswordAuth = pw }
}

// WithNoAuth configures the server to accept any connection.
func WithNoAuth() Option {
	return func(c *ServerConfig) { c.NoAuth = true }
}

// WithDevice enables pty-req and shell requests, serving d.
func WithDevice(d Device) Option {
	return func(c *ServerConfig) { c.Device = &d }
}

// WithAuthCounter counts password attempts into n.
func WithAuthCounter(n *atomic.Int32) Option {
	return func(c *ServerConfig) { c.AuthAttempts = n }
}

// Start launches an in-process SSH server. It returns the listener address
// and a cleanup function that shuts down the server.
func Start(t *testing.T, opts ...Option) (addr string, cleanup func()) {
	t.Helper()

	cfg := &ServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	serverConf := &ssh.ServerConfig{NoClientAuth: cfg.NoAuth}
	serverConf.AddHostKey(hostSigner)

	if cfg.PasswordAuth != "" {
		serverConf.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if cfg.AuthAttempts != nil {
				cfg.AuthAttempts.Add(1)
			}
			if string(password) == cfg.PasswordAuth {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleConnection(conn, serverConf, cfg)
		}
	}()

	return listener.Addr().String(), func() {
		listener.Close()
		<-done
	}
}

// ClosedAddr returns an address nothing listens on.
func ClosedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func handleConnection(conn net.Conn, config *ssh.ServerConfig, cfg *ServerConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, requests, cfg)
	}
}

func handleSession(ch ssh.Channel, reqs <-chan *ssh.Request, cfg *ServerConfig) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			req.Reply(cfg.Device != nil, nil)
		case "shell":
			if cfg.Device == nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				runDevice(ch, *cfg.Device)
				ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
				ch.Close()
			}()
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runDevice echoes each line, answers through the handler and prints a
// prompt that tracks configuration mode.
func runDevice(ch ssh.Channel, d Device) {
	hostname := d.Hostname
	if hostname == "" {
		hostname = "switch"
	}
	configMode := false
	prompt := func() string {
		if configMode {
			return hostname + "(config)#"
		}
		return hostname + "#"
	}

	io.WriteString(ch, crlf(d.Banner)+"\r\n"+prompt())

	reader := bufio.NewReader(ch)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		var out string
		switch strings.TrimSpace(line) {
		case "exit", "quit":
			if !configMode {
				return
			}
			configMode = false
		case "configure terminal":
			configMode = true
			out = "Enter configuration commands, one per line.  End with CNTL/Z."
		case "end":
			configMode = false
		}
		if d.Handler != nil {
			if extra := d.Handler(line); extra != "" {
				if out != "" {
					out += "\n"
				}
				out += extra
			}
		}

		resp := line + "\r\n"
		if out != "" {
			resp += crlf(strings.TrimRight(out, "\n")) + "\r\n"
		}
		io.WriteString(ch, resp+prompt())
	}
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// ParseAddr splits an address into host and port.
func ParseAddr(t *testing.T, addr string) (host string, port int) {
	t.Helper()
	h, portStr, _ := net.SplitHostPort(addr)
	var p int
	fmt.Sscanf(portStr, "%d", &p)
	return h, p
}
