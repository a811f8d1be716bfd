package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/andresuchdata/batchsync/internal/config"
	"github.com/andresuchdata/batchsync/pkg/logger"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPSource dials a fresh SSH connection for every session; nothing is shared
// between invocations.
type SFTPSource struct {
	cfg config.SFTPConfig
}

func NewSFTPSource(cfg config.SFTPConfig) *SFTPSource {
	return &SFTPSource{cfg: cfg}
}

// Connect dials, authenticates and opens the SFTP subsystem.
func (s *SFTPSource) Connect(ctx context.Context) (Session, error) {
	clientConfig, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := s.cfg.Addr()
	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if deadline, ok := handshakeDeadline(ctx, s.cfg.DialTimeout()); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(sshConn, chans, reqs)
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}

	return &sftpSession{client: client, ssh: sshClient, dir: s.cfg.RemoteDir}, nil
}

func handshakeDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if timeout > 0 {
		byTimeout := time.Now().Add(timeout)
		if !ok || byTimeout.Before(deadline) {
			return byTimeout, true
		}
	}
	return deadline, ok
}

func (s *SFTPSource) clientConfig() (*ssh.ClientConfig, error) {
	auth, err := authMethods(s.cfg)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyCallback(s.cfg.KnownHostsPath)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.DialTimeout(),
	}, nil
}

func authMethods(cfg config.SFTPConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.PrivateKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		var signer ssh.Signer
		if cfg.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(cfg.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pemBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		password := cfg.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, errors.New("no sftp credentials configured")
	}
	return methods, nil
}

func hostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		logger.Log.Warn().Msg("SFTP_KNOWN_HOSTS_PATH not set, accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

type sftpSession struct {
	client *sftp.Client
	ssh    *ssh.Client
	dir    string
}

func (s *sftpSession) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := s.client.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *sftpSession) Fetch(ctx context.Context, name string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	remotePath := path.Join(s.dir, name)
	f, err := s.client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer f.Close()

	// Closing the remote handle unblocks an in-flight read when ctx ends.
	stop := context.AfterFunc(ctx, func() { f.Close() })
	defer stop()

	if _, err := f.WriteTo(w); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("read %s: %w", remotePath, ctxErr)
		}
		return fmt.Errorf("read %s: %w", remotePath, err)
	}
	return nil
}

func (s *sftpSession) Close() error {
	err := s.client.Close()
	if s.ssh != nil {
		err = errors.Join(err, s.ssh.Close())
	}
	return err
}

var _ Source = (*SFTPSource)(nil)
