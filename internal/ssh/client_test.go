package ssh

import (
	"context"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/agent462/netmaint/internal/sshtest"
)

// dialDevice starts an emulated device and opens a shell on it.
func dialDevice(t *testing.T, d sshtest.Device) (*Session, func()) {
	t.Helper()

	addr, cleanup := sshtest.Start(t, sshtest.WithPassword("secret"), sshtest.WithDevice(d))
	host, port := sshtest.ParseAddr(t, addr)

	client, err := Dial(context.Background(), host, ClientConfig{
		User:               "admin",
		Password:           "secret",
		Port:               port,
		ConnectTimeout:     2 * time.Second,
		AcceptUnknownHosts: true,
	})
	if err != nil {
		cleanup()
		t.Fatalf("dial: %v", err)
	}

	sess, err := client.OpenShell(context.Background(), 2*time.Second)
	if err != nil {
		client.Close()
		cleanup()
		t.Fatalf("open shell: %v", err)
	}
	return sess, func() {
		sess.Close()
		cleanup()
	}
}

func TestDialWithPassword(t *testing.T) {
	addr, cleanup := sshtest.Start(t, sshtest.WithPassword("secret"))
	defer cleanup()

	host, port := sshtest.ParseAddr(t, addr)
	client, err := Dial(context.Background(), host, ClientConfig{
		User:               "admin",
		Password:           "secret",
		Port:               port,
		AcceptUnknownHosts: true,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if client.Host() != host {
		t.Errorf("Host() = %q, want %q", client.Host(), host)
	}
}

func TestDialWrongPasswordIsAuthFailure(t *testing.T) {
	addr, cleanup := sshtest.Start(t, sshtest.WithPassword("secret"))
	defer cleanup()

	host, port := sshtest.ParseAddr(t, addr)
	_, err := Dial(context.Background(), host, ClientConfig{
		User:               "admin",
		Password:           "wrong",
		Port:               port,
		AcceptUnknownHosts: true,
	})
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !IsAuthFailure(err) {
		t.Errorf("IsAuthFailure(%v) = false, want true", err)
	}
}

func TestDialConnectionRefusedIsNotAuthFailure(t *testing.T) {
	host, port := sshtest.ParseAddr(t, sshtest.ClosedAddr(t))
	_, err := Dial(context.Background(), host, ClientConfig{
		User:               "admin",
		Password:           "secret",
		Port:               port,
		AcceptUnknownHosts: true,
	})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if IsAuthFailure(err) {
		t.Errorf("connection refused classified as auth failure: %v", err)
	}
}

func TestConnectionTimeout(t *testing.T) {
	// Create a listener that accepts but never completes the SSH handshake.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 1)
				for {
					if _, err := c.Read(buf); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	_, port := sshtest.ParseAddr(t, listener.Addr().String())

	conf := ClientConfig{
		User:               "admin",
		Port:               port,
		ConnectTimeout:     200 * time.Millisecond,
		AcceptUnknownHosts: true,
	}

	start := time.Now()
	_, err = Dial(context.Background(), "127.0.0.1", conf)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if !strings.Contains(err.Error(), "deadline exceeded") {
		t.Errorf("expected deadline exceeded, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connect timeout not honoured, took %s", elapsed)
	}
}

func TestResolveHostKeyCallback_MissingKnownHosts(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	conf := ClientConfig{AcceptUnknownHosts: false}
	_, err := resolveHostKeyCallback(conf)
	if err == nil {
		t.Fatal("expected error when known_hosts is missing and AcceptUnknownHosts is false")
	}
	if !strings.Contains(err.Error(), "no known_hosts file") {
		t.Errorf("error should mention missing known_hosts, got: %v", err)
	}
}

func TestResolveHostKeyCallback_Insecure(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	conf := ClientConfig{AcceptUnknownHosts: true}
	cb, err := resolveHostKeyCallback(conf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb == nil {
		t.Fatal("expected non-nil callback")
	}
}

func TestResolveHostKeyCallback_ExplicitCallback(t *testing.T) {
	explicit := gossh.InsecureIgnoreHostKey()
	conf := ClientConfig{HostKeyCallback: explicit}
	cb, err := resolveHostKeyCallback(conf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb == nil {
		t.Fatal("expected non-nil callback")
	}
}

func TestResolveAddr(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if got := resolveAddr("10.0.0.1", ClientConfig{Port: 2222}); got != "10.0.0.1:2222" {
		t.Errorf("resolveAddr = %q", got)
	}
	if got := resolveAddr("sw1", ClientConfig{}); got != "sw1:22" {
		t.Errorf("resolveAddr = %q, want sw1:22", got)
	}
}

func TestLegacyAlgorithmsIncludeCBC(t *testing.T) {
	conf := legacyAlgorithms()
	found := false
	for _, c := range conf.Ciphers {
		if c == "aes128-cbc" {
			found = true
		}
	}
	if !found {
		t.Errorf("ciphers %v missing aes128-cbc", conf.Ciphers)
	}
	for _, kex := range conf.KeyExchanges {
		if kex == "diffie-hellman-group1-sha1" {
			return
		}
	}
	t.Errorf("key exchanges %v missing diffie-hellman-group1-sha1", conf.KeyExchanges)
}

func TestSessionExecute(t *testing.T) {
	sess, cleanup := dialDevice(t, sshtest.Device{
		Hostname: "sw1",
		Handler: sshtest.Script(sshtest.IOSVersion, map[string]string{
			"show clock": "*10:00:00.000 UTC Mon Mar 4 2024",
		}),
	})
	defer cleanup()

	raw, err := sess.Execute(context.Background(), "show clock")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if raw != sess.Response() {
		t.Errorf("Response() = %q, want %q", sess.Response(), raw)
	}
	if strings.Contains(raw, "\r") {
		t.Errorf("response still contains carriage returns: %q", raw)
	}
	if got := StripFraming(raw); got != "*10:00:00.000 UTC Mon Mar 4 2024" {
		t.Errorf("framed output = %q", got)
	}
}

func TestSessionExecuteRejected(t *testing.T) {
	sess, cleanup := dialDevice(t, sshtest.Device{
		Hostname: "sw1",
		Handler:  sshtest.Script(sshtest.IOSVersion, nil, "shw run"),
	})
	defer cleanup()

	_, err := sess.Execute(context.Background(), "shw run")
	if err == nil {
		t.Fatal("expected rejection")
	}
	rejected, ok := err.(*CommandRejectedError)
	if !ok {
		t.Fatalf("expected *CommandRejectedError, got %T: %v", err, err)
	}
	if rejected.Command != "shw run" {
		t.Errorf("Command = %q", rejected.Command)
	}
	if !strings.Contains(rejected.Message, "Invalid input") {
		t.Errorf("Message = %q", rejected.Message)
	}

	// The session stays usable after a rejection.
	if _, err := sess.Execute(context.Background(), "show clock"); err != nil {
		t.Errorf("execute after rejection: %v", err)
	}
}

func TestSessionConfigModePrompt(t *testing.T) {
	sess, cleanup := dialDevice(t, sshtest.Device{Hostname: "sw1"})
	defer cleanup()

	raw, err := sess.Execute(context.Background(), "configure terminal")
	if err != nil {
		t.Fatalf("configure terminal: %v", err)
	}
	if !strings.HasSuffix(raw, "sw1(config)#") {
		t.Errorf("expected config prompt, got %q", raw)
	}
	if _, err := sess.Execute(context.Background(), "end"); err != nil {
		t.Fatalf("end: %v", err)
	}
}

func TestSessionSendThenFlush(t *testing.T) {
	sess, cleanup := dialDevice(t, sshtest.Device{Hostname: "sw1"})
	defer cleanup()

	for _, line := range []string{"banner motd ^", "maintenance tonight", "^"} {
		if err := sess.Send(line + "\n"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	raw, err := sess.Execute(context.Background(), "")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	for _, line := range []string{"maintenance tonight", "^"} {
		if !strings.Contains(raw, line) {
			t.Errorf("flush response %q missing %q", raw, line)
		}
	}
	if !strings.HasSuffix(raw, "sw1#") {
		t.Errorf("flush response should end at the prompt: %q", raw)
	}
}

func TestSessionExecuteContextCancelled(t *testing.T) {
	sess, cleanup := dialDevice(t, sshtest.Device{
		Hostname: "sw1",
		Handler: func(line string) string {
			if line == "reload" {
				time.Sleep(500 * time.Millisecond)
			}
			return ""
		},
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sess.Execute(ctx, "reload")
	if err == nil {
		t.Fatal("expected context error")
	}
	if !strings.Contains(err.Error(), "deadline exceeded") {
		t.Errorf("err = %v", err)
	}
}

func TestSetDriver(t *testing.T) {
	s := &Session{}
	s.SetDriver("NXOS")
	if s.Driver() != "nxos" {
		t.Errorf("Driver() = %q, want nxos", s.Driver())
	}
	s.SetDriver("junos")
	if s.Driver() != "junos" {
		t.Errorf("Driver() = %q, want junos", s.Driver())
	}
	if _, ok := LookupDialect(s.Driver()); ok {
		t.Error("junos should not be a registered dialect")
	}
}

func TestSetDriverAppliesErrorPrompts(t *testing.T) {
	s := &Session{errorPrompts: defaultErrorPrompts()}
	s.SetDriver("ios")
	const resp = "bogus\n% Invalid command at '^' marker.\nsw1#"

	if _, rejected := s.rejection(resp); rejected {
		t.Fatal("ios should not know the NX-OS invalid command banner")
	}

	s.SetDriver("nxos")
	msg, rejected := s.rejection(resp)
	if !rejected {
		t.Fatal("forced nxos should reject the invalid command banner")
	}
	if msg != "% Invalid command at '^' marker." {
		t.Errorf("message = %q", msg)
	}

	s.SetDriver("ios")
	if _, rejected := s.rejection(resp); rejected {
		t.Error("switching back to ios should drop the nxos prompts")
	}
	if got, want := len(s.ErrorPrompts()), len(defaultErrorPrompts()); got != want {
		t.Errorf("ios prompts = %d, want %d", got, want)
	}
}

func TestAddErrorPromptSurvivesDialectChange(t *testing.T) {
	s := &Session{errorPrompts: defaultErrorPrompts()}
	s.AddErrorPrompt(regexp.MustCompile(`^Permission denied`))
	s.SetDriver("nxos")
	if _, rejected := s.rejection("conf t\nPermission denied\nsw1#"); !rejected {
		t.Error("extra prompt should still apply after SetDriver")
	}
}

func TestNotFoundNeedsPercentPrefix(t *testing.T) {
	s := &Session{errorPrompts: defaultErrorPrompts()}
	tests := []struct {
		line     string
		rejected bool
	}{
		{"Entry not found", false},
		{"  MAC 0011.2233.4455 not found in table", false},
		{"% Interface Gi0/99 not found", true},
		{"%VLAN 4000 NOT FOUND", true},
	}
	for _, tt := range tests {
		_, got := s.rejection("show x\n" + tt.line + "\nsw1#")
		if got != tt.rejected {
			t.Errorf("%q: rejected = %v, want %v", tt.line, got, tt.rejected)
		}
	}
}
