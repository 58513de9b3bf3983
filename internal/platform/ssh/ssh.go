// Package ssh executes commands on cluster nodes over SSH. It is the
// transport behind the converge step runner: a command's exit status is
// returned as data so steps can probe remote state, while connection
// and session failures surface as errors for the caller's retry loop.
//
// Security: host key verification is disabled by default. The nodes are
// created and destroyed by this tool within a single session, so there
// is no prior key to verify against. Set HostKeyCallback to change that.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/strandtools/strand/internal/provisioning/converge"
	"github.com/strandtools/strand/internal/util/retry"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
	defaultMaxRetries  = 30
	defaultRetryDelay  = 5 * time.Second
	defaultMaxDelay    = 10 * time.Second
)

// Config holds SSH client configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte

	// DialTimeout is the timeout for establishing the TCP connection.
	// If zero, defaultDialTimeout is used.
	DialTimeout time.Duration

	// MaxRetries is the maximum number of connection attempts. Fresh
	// servers take a while to start sshd, so the default is generous.
	MaxRetries int

	// RetryDelay is the initial delay between connection attempts.
	// If zero, defaultRetryDelay is used.
	RetryDelay time.Duration

	// HostKeyCallback handles host key verification.
	// If nil, ssh.InsecureIgnoreHostKey() is used.
	HostKeyCallback ssh.HostKeyCallback
}

// Client executes commands on one remote node. It parses the private
// key once during construction and dials on demand per call.
type Client struct {
	config *Config
	signer ssh.Signer
}

// Client implements the converge step transport.
var _ converge.Runner = (*Client)(nil)

// NewClient creates a new SSH client and validates the private key.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("config host cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("config user cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("config private key cannot be empty")
	}

	// Copy config to avoid mutating caller's struct
	configCopy := *cfg
	if configCopy.Port == 0 {
		configCopy.Port = defaultPort
	}
	if configCopy.DialTimeout == 0 {
		configCopy.DialTimeout = defaultDialTimeout
	}
	if configCopy.MaxRetries == 0 {
		configCopy.MaxRetries = defaultMaxRetries
	}
	if configCopy.RetryDelay == 0 {
		configCopy.RetryDelay = defaultRetryDelay
	}
	if configCopy.HostKeyCallback == nil {
		configCopy.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // nodes are ephemeral, created by this tool
	}

	signer, err := ssh.ParsePrivateKey(configCopy.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Client{
		config: &configCopy,
		signer: signer,
	}, nil
}

// Host returns the address the client connects to.
func (c *Client) Host() string { return c.config.Host }

// Run executes the command and reports its combined output and exit
// status. A nonzero exit is not an error: converge steps read exit
// codes to probe remote state. Errors mean the command never ran to
// completion (connection refused, session torn down, context done).
func (c *Client) Run(ctx context.Context, command string) (converge.Output, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return converge.Output{}, err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return converge.Output{}, fmt.Errorf("failed to create SSH session on %s: %w", c.config.Host, err)
	}
	defer func() { _ = session.Close() }()

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		out, runErr := session.CombinedOutput(command)
		done <- result{out, runErr}
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return converge.Output{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(res.err, &exitErr) {
				return converge.Output{Stdout: string(res.output), ExitCode: exitErr.ExitStatus()}, nil
			}
			return converge.Output{}, fmt.Errorf("command failed on %s: %w", c.config.Host, res.err)
		}
		return converge.Output{Stdout: string(res.output)}, nil
	}
}

// Execute runs a command and fails on nonzero exit. For one-shot
// commands outside the converge engine.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	out, err := c.Run(ctx, command)
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		return out.Stdout, fmt.Errorf("command exited %d on %s: %s", out.ExitCode, c.config.Host, command)
	}
	return out.Stdout, nil
}

// WaitReady blocks until the node accepts an SSH connection or the
// context ends. Used after server creation, before the first converge.
func (c *Client) WaitReady(ctx context.Context) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	return client.Close()
}

// connect establishes the SSH connection with retry. Servers can take
// minutes from API-created to sshd-answering.
func (c *Client) connect(ctx context.Context) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User: c.config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(c.signer),
		},
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	var client *ssh.Client

	err := retry.Do(ctx, func() error {
		var dialErr error
		client, dialErr = ssh.Dial("tcp", addr, config)
		return dialErr
	},
		retry.Attempts(c.config.MaxRetries),
		retry.Delay(c.config.RetryDelay),
		retry.MaxDelay(defaultMaxDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}

	return client, nil
}
