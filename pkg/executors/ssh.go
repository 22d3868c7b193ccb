package executors

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/engine"
	sshtransport "github.com/lemniscat/lemniscat/pkg/transports/ssh"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// remoteClient is the part of the SSH transport the executor uses.
type remoteClient interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context, cmd string, stdout io.Writer) (*sshtransport.ExecResult, error)
	Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) (*sshtransport.UploadResult, error)
	Close() error
}

type dialFunc func(cfg *sshtransport.Config, logger zerolog.Logger) (remoteClient, error)

func dialSSH(cfg *sshtransport.Config, logger zerolog.Logger) (remoteClient, error) {
	return sshtransport.NewClient(cfg, logger)
}

// SSHExecutor runs command on a remote host, optionally uploading a file
// first. Command output follows the pushvar protocol.
//
// Parameters: host ([user@]host[:port], required), user, port, password,
// privateKey, passphrase, knownHosts, strictHostKeyChecking (default
// true), command (required) and upload {source, destination, mode}.
type SSHExecutor struct {
	outputs
	dial   dialFunc
	logger zerolog.Logger
}

// NewSSHExecutor creates the ssh executor.
func NewSSHExecutor(logger zerolog.Logger) *SSHExecutor {
	return &SSHExecutor{dial: dialSSH, logger: logger.With().Str("executor", "ssh").Logger()}
}

// Invoke implements engine.TaskExecutor.
func (e *SSHExecutor) Invoke(ctx context.Context, parameters map[string]any, vars variables.Scope) engine.TaskResult {
	e.set(nil)
	p := resolveParams(parameters, vars, e.logger)

	cfg, err := sshConfig(p)
	if err != nil {
		return engine.Failed("ssh", err)
	}
	command, err := p.Required("command")
	if err != nil {
		return engine.Failed("ssh", err)
	}
	upload, err := p.Map("upload")
	if err != nil {
		return engine.Failed("ssh", err)
	}

	logger := e.logger.With().Str("host", cfg.Address()).Logger()
	client, err := e.dial(cfg, logger)
	if err != nil {
		return engine.Failed("ssh", err)
	}
	if err := client.Connect(ctx); err != nil {
		return engine.Failed("ssh", err)
	}
	defer client.Close()

	if upload != nil {
		u := params(upload)
		source, err := u.Required("source")
		if err != nil {
			return engine.Failed("ssh", fmt.Errorf("upload: %w", err))
		}
		destination, err := u.Required("destination")
		if err != nil {
			return engine.Failed("ssh", fmt.Errorf("upload: %w", err))
		}
		mode, err := fileMode(u["mode"])
		if err != nil {
			return engine.Failed("ssh", fmt.Errorf("upload: %w", err))
		}
		if _, err := client.Upload(ctx, source, destination, mode); err != nil {
			return engine.Failed("ssh", err)
		}
		logger.Info().Str("source", source).Str("destination", destination).Msg("Uploaded file")
	}

	stdout := newPushvarWriter(logger.With().Str("stream", "stdout").Logger())
	result, err := client.Run(ctx, command, stdout)
	stdout.Flush()
	if err != nil {
		return engine.Failed("ssh", err)
	}
	if result.Stderr != "" {
		logger.Warn().Str("stream", "stderr").Msg(result.Stderr)
	}
	if result.ExitCode != 0 {
		return engine.Failed("ssh", fmt.Errorf("command exited with code %d", result.ExitCode))
	}

	e.set(stdout.Variables())
	logger.Debug().Dur("duration", result.Duration).Msg("Remote command finished")
	return engine.Succeeded("ssh")
}

// sshConfig builds the transport configuration from task parameters.
func sshConfig(p params) (*sshtransport.Config, error) {
	host, err := p.Required("host")
	if err != nil {
		return nil, err
	}
	user := p.String("user")
	if user == "" {
		user = os.Getenv("USER")
	}

	cfg, err := sshtransport.ParseTarget(host, user)
	if err != nil {
		return nil, err
	}
	if port := p.String("port"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", port)
		}
		cfg.Port = n
	}

	if password := p.String("password"); password != "" {
		cfg.AuthMethod = sshtransport.AuthMethodPassword
		cfg.Password = password
	}
	if key := p.String("privateKey"); key != "" {
		cfg.AuthMethod = sshtransport.AuthMethodKey
		cfg.PrivateKeyPath = key
	}
	cfg.PrivateKeyPassphrase = p.String("passphrase")
	if kh := p.String("knownHosts"); kh != "" {
		cfg.KnownHostsPath = kh
	}
	cfg.StrictHostKeyChecking = p.Bool("strictHostKeyChecking", true)
	return cfg, nil
}

// fileMode accepts an octal string ("0644") or a number. Numbers written
// in YAML as 0644 are already decoded as octal.
func fileMode(v any) (os.FileMode, error) {
	switch m := v.(type) {
	case nil:
		return 0, nil
	case int:
		return os.FileMode(m), nil
	case float64:
		return os.FileMode(int(m)), nil
	case string:
		if m == "" {
			return 0, nil
		}
		n, err := strconv.ParseUint(m, 8, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid mode %q", m)
		}
		return os.FileMode(n), nil
	default:
		return 0, fmt.Errorf("invalid mode %v", v)
	}
}
