// Package ssh runs commands and uploads files on remote hosts.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ExecResult represents the result of a command execution.
type ExecResult struct {
	// Stderr is the trimmed standard error output
	Stderr string

	// ExitCode is the command's exit code
	ExitCode int

	// Duration is the total execution time
	Duration time.Duration
}

// UploadResult represents the result of a file upload.
type UploadResult struct {
	// BytesTransferred is the number of bytes written remotely
	BytesTransferred int64

	// Duration is the time taken for the transfer
	Duration time.Duration
}

// Client is a single SSH connection.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewClient validates config and returns an unconnected client.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("address", config.Address()).Logger(),
	}, nil
}

// Connect dials the remote host. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	c.logger.Debug().Msg("Establishing SSH connection")

	type dialed struct {
		client *ssh.Client
		err    error
	}
	done := make(chan dialed, 1)
	go func() {
		client, err := ssh.Dial("tcp", c.config.Address(), clientConfig)
		done <- dialed{client, err}
	}()

	select {
	case <-ctx.Done():
		// Reap the connection if the dial completes later.
		go func() {
			if d := <-done; d.client != nil {
				_ = d.client.Close()
			}
		}()
		return &TransportError{Op: "connect", Err: ctx.Err()}
	case d := <-done:
		if d.err != nil {
			return &TransportError{Op: "connect", Err: d.err}
		}
		c.client = d.client
	}

	c.logger.Debug().Msg("SSH connection established")
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) conn() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, &TransportError{Op: "session", Err: errors.New("not connected")}
	}
	return c.client, nil
}

// Run executes cmd remotely, streaming its standard output to stdout.
//
// A non-zero exit is reported through ExecResult.ExitCode with a nil
// error. Errors are reserved for transport failures and cancellation.
func (c *Client) Run(ctx context.Context, cmd string, stdout io.Writer) (*ExecResult, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	var stderr bytes.Buffer
	if stdout == nil {
		stdout = io.Discard
	}
	session.Stdout = stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		<-done
		return nil, &TransportError{Op: "exec", Err: ctx.Err()}
	case runErr = <-done:
	}

	result := &ExecResult{
		Stderr:   string(bytes.TrimSpace(stderr.Bytes())),
		Duration: time.Since(start),
	}

	c.logger.Debug().
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(runErr).
		Msg("Command completed")

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, &TransportError{Op: "exec", Err: runErr}
	}
	return result, nil
}

// Upload copies a local file to remotePath over SFTP, creating parent
// directories. A zero mode leaves the server default permissions.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) (*UploadResult, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	local, err := os.Open(localPath)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer local.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to create SFTP client: %w", err)}
	}
	defer sftpClient.Close()

	// SFTP paths are always slash separated.
	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote file: %w", err)}
	}
	defer remote.Close()

	n, err := copyWithContext(ctx, remote, local)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: err}
	}

	if mode != 0 {
		if err := sftpClient.Chmod(remotePath, mode); err != nil {
			return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to set permissions: %w", err)}
		}
	}

	result := &UploadResult{BytesTransferred: n, Duration: time.Since(start)}
	c.logger.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", n).
		Dur("duration", result.Duration).
		Msg("File uploaded")
	return result, nil
}

// copyWithContext copies src to dst in chunks, checking ctx between them.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
