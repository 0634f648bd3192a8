// Copyright © 2024 Zyncio

package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/howeyc/gopass"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/zyncio/zync/pkg/model"
)

const defaultDialTimeout = 30 * time.Second

// SSHOption modifies the behavior of an SSH runner.
type SSHOption func(*sshSettings)

type sshSettings struct {
	hostKey     ssh.HostKeyCallback
	dialTimeout time.Duration
	logger      *zap.Logger
	stdin       gopass.FdReader
}

func defaultSSHSettings() sshSettings {
	return sshSettings{
		dialTimeout: defaultDialTimeout,
		logger:      zap.NewNop(),
		stdin:       os.Stdin,
	}
}

// SSHWithHostKeyCallback overrides host key verification. The default
// checks ~/.ssh/known_hosts when present and accepts anything otherwise.
func SSHWithHostKeyCallback(cb ssh.HostKeyCallback) SSHOption {
	return func(s *sshSettings) {
		if cb != nil {
			s.hostKey = cb
		}
	}
}

// SSHWithDialTimeout bounds connection establishment.
func SSHWithDialTimeout(d time.Duration) SSHOption {
	return func(s *sshSettings) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// SSHWithLogger provides a logger for connection lifecycle events.
func SSHWithLogger(l *zap.Logger) SSHOption {
	return func(s *sshSettings) {
		if l != nil {
			s.logger = l
		}
	}
}

// SSH runs commands on a remote endpoint over a single shared connection.
// The connection is established lazily on the first Run and reused until
// Close. Safe for concurrent use: each Run gets its own session.
type SSH struct {
	user    string
	host    string
	port    int
	keyFile string
	opts    sshSettings

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSH builds a runner for the endpoint a remote dataset lives on.
// keyFile may be empty, in which case only agent authentication is tried.
func NewSSH(ds model.Dataset, keyFile string, opts ...SSHOption) *SSH {
	settings := defaultSSHSettings()
	for _, apply := range opts {
		apply(&settings)
	}
	return &SSH{
		user:    ds.User,
		host:    ds.Host,
		port:    ds.Port,
		keyFile: keyFile,
		opts:    settings,
	}
}

func (s *SSH) Endpoint() string {
	return fmt.Sprintf("%s@%s:%d", s.user, s.host, s.port)
}

func (s *SSH) Run(ctx context.Context, cmd Command) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return errors.Wrapf(model.ErrTransport, "session on %s: %v", s.Endpoint(), err)
	}
	defer session.Close()

	var stderr strings.Builder
	session.Stdin = cmd.Stdin
	session.Stdout = cmd.Stdout
	session.Stderr = cmd.Stderr
	if session.Stderr == nil {
		session.Stderr = &stderr
	}

	line := quoteCommand(cmd)
	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		<-done
		return ctx.Err()
	case err = <-done:
	}
	if err == nil {
		return nil
	}
	var xe *ssh.ExitError
	if errors.As(err, &xe) {
		return &ExitError{
			Cmd:    cmd.String(),
			Status: xe.ExitStatus(),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}
	return errors.Wrapf(model.ErrTransport, "run %q on %s: %v", cmd.Path, s.Endpoint(), err)
}

// Close tears down the shared connection. The runner may be reused, the
// next Run reconnects.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *SSH) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	auth, err := s.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey := s.opts.hostKey
	if hostKey == nil {
		hostKey = defaultHostKeyCallback(s.opts.logger)
	}
	cfg := &ssh.ClientConfig{
		User:            s.user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         s.opts.dialTimeout,
	}

	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	s.opts.logger.Debug("dialing", zap.String("endpoint", s.Endpoint()))

	dialer := net.Dialer{Timeout: s.opts.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(model.ErrTransport, "dial %s: %v", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(model.ErrTransport, "ssh handshake with %s: %v", s.Endpoint(), err)
	}
	s.client = ssh.NewClient(c, chans, reqs)
	return s.client, nil
}

func (s *SSH) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if s.keyFile != "" {
		signer, err := loadSigner(s.keyFile, s.opts.stdin)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if len(methods) == 0 {
		return nil, errors.Wrapf(model.ErrConfiguration,
			"no credentials for %s: no key file given and no ssh agent running", s.Endpoint())
	}
	return methods, nil
}

// loadSigner parses a private key file, prompting for the passphrase when
// the key is encrypted and stdin is a terminal.
func loadSigner(path string, stdin gopass.FdReader) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(model.ErrConfiguration, "read key %s: %v", path, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, errors.Wrapf(model.ErrConfiguration, "parse key %s: %v", path, err)
	}
	if !isatty.IsTerminal(stdin.Fd()) {
		return nil, errors.Wrapf(model.ErrConfiguration,
			"key %s is passphrase protected and stdin is not a terminal", path)
	}
	pass, err := gopass.GetPasswdPrompt(fmt.Sprintf("passphrase for %s: ", path), true, stdin, os.Stderr)
	if err != nil {
		return nil, errors.Wrapf(model.ErrConfiguration, "read passphrase for %s: %v", path, err)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, pass)
	if err != nil {
		return nil, errors.Wrapf(model.ErrConfiguration, "decrypt key %s: %v", path, err)
	}
	return signer, nil
}

func defaultHostKeyCallback(logger *zap.Logger) ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, ".ssh", "known_hosts")
		if _, serr := os.Stat(path); serr == nil {
			if cb, kerr := knownhosts.New(path); kerr == nil {
				return cb
			}
		}
	}
	logger.Warn("no usable known_hosts file, skipping host key verification")
	return ssh.InsecureIgnoreHostKey()
}

// quoteCommand renders a Command as a single shell line for remote
// execution, quoting every argument that needs it.
func quoteCommand(cmd Command) string {
	parts := make([]string, 0, len(cmd.Args)+1)
	parts = append(parts, shellQuote(cmd.Path))
	for _, a := range cmd.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&;|<>(){}[]*?~#`!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
