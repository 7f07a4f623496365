package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/labpool/rsvp/internal/config"
)

const (
	sshPort            = 22
	defaultDialTimeout = 10 * time.Second

	checkServerCommand = "checkServer"
	processListCommand = "ps -e -o user,pid,comm"
)

// SSHSource runs the diagnostic queries over SSH. It parses the private key
// once and opens a fresh connection per query, the same way each wire
// exchange uses a fresh connection.
type SSHSource struct {
	user        string
	signer      ssh.Signer
	dialTimeout time.Duration
}

// NewSSHSource builds a status source from the probe configuration.
func NewSSHSource(cfg config.ProbeConfig) (*SSHSource, error) {
	if cfg.SSHKeyPath == "" {
		return nil, fmt.Errorf("probe.ssh_key_path is required for SSH probes")
	}
	key, err := os.ReadFile(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &SSHSource{
		user:        cfg.SSHUser,
		signer:      signer,
		dialTimeout: defaultDialTimeout,
	}, nil
}

// Run executes an arbitrary command on the host and returns its combined
// output.
func (s *SSHSource) Run(ctx context.Context, host, command string) (string, error) {
	return s.run(ctx, host, command)
}

// CheckServer runs the health query on the host.
func (s *SSHSource) CheckServer(ctx context.Context, host string) (string, error) {
	return s.run(ctx, host, checkServerCommand)
}

// Processes runs the process-listing query on the host.
func (s *SSHSource) Processes(ctx context.Context, host string) ([]Process, error) {
	out, err := s.run(ctx, host, processListCommand)
	if err != nil {
		return nil, err
	}
	return ParseProcesses(out)
}

func (s *SSHSource) run(ctx context.Context, host, command string) (string, error) {
	clientConfig := &ssh.ClientConfig{
		User:            s.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(s.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // lab hosts are reimaged constantly
		Timeout:         s.dialTimeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(sshPort))
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("SSH handshake with %s: %w", host, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session on %s: %w", host, err)
	}
	defer func() { _ = session.Close() }()

	output, err := session.CombinedOutput(command)
	if err != nil {
		return string(output), fmt.Errorf("command failed on %s: %w\nCommand: %s\nOutput: %s",
			host, err, command, string(output))
	}
	return string(output), nil
}
