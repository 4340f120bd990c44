// Package remote serves a watched directory over an SSH file-transfer
// session. Every call is a plain directory listing or a seek-and-read, so
// it works against any SFTP server without watch or range extensions.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/internal/storage"
	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Options describe how to reach the remote directory
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyFile  string // Private key for public key auth
	// KnownHosts is an OpenSSH known_hosts file used to verify the server
	KnownHosts string
	// InsecureIgnoreHostKey skips server verification when KnownHosts is empty
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
	Dir                   string
}

// Backend is a storage.Backend bound to one remote directory
type Backend struct {
	client *sftp.Client
	ssh    *ssh.Client
	dir    string
	logger *zap.Logger
}

var _ storage.Backend = (*Backend)(nil)

// Dial opens an SSH connection and an SFTP session on top of it
func Dial(ctx context.Context, opts Options, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig, err := clientConfig(opts, logger)
	if err != nil {
		return nil, err
	}

	port := opts.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish ssh session with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}

	logger.Info("Connected to remote directory",
		zap.String("addr", addr),
		zap.String("user", opts.User),
		zap.String("dir", opts.Dir))

	b := NewWithClient(client, opts.Dir, logger)
	b.ssh = sshClient
	return b, nil
}

// NewWithClient wraps an existing SFTP client
func NewWithClient(client *sftp.Client, dir string, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = "."
	}
	return &Backend{client: client, dir: dir, logger: logger}
}

func clientConfig(opts Options, logger *zap.Logger) (*ssh.ClientConfig, error) {
	if opts.Host == "" {
		return nil, errors.New("remote host is required")
	}
	if opts.User == "" {
		return nil, errors.New("remote user is required")
	}

	auth, err := authMethods(opts)
	if err != nil {
		return nil, err
	}

	var hostKey ssh.HostKeyCallback
	switch {
	case opts.KnownHosts != "":
		hostKey, err = knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	case opts.InsecureIgnoreHostKey:
		logger.Warn("Remote host key verification disabled", zap.String("host", opts.Host))
		hostKey = ssh.InsecureIgnoreHostKey()
	default:
		return nil, errors.New("known hosts file is required unless host key checking is disabled")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func authMethods(opts Options) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if opts.KeyFile != "" {
		pem, err := os.ReadFile(opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("a password or private key is required")
	}
	return methods, nil
}

// Close ends the SFTP session and the SSH connection under it
func (b *Backend) Close() error {
	err := b.client.Close()
	if b.ssh != nil {
		if cerr := b.ssh.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (b *Backend) remotePath(name string) string {
	return path.Join(b.dir, name)
}

// ListEntries returns the regular files in the remote directory
func (b *Backend) ListEntries(ctx context.Context) ([]models.FileSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := b.client.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote directory %s: %w", b.dir, err)
	}

	entries := make([]models.FileSnapshot, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, models.FileSnapshot{
			Name:    info.Name(),
			Size:    uint64(info.Size()),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// ReadTail reads a remote file from skip through its end
func (b *Backend) ReadTail(ctx context.Context, name string, skip uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(name); err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}

	f, err := b.client.Open(b.remotePath(name))
	if err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}
	size := uint64(info.Size())
	if skip > size {
		return nil, &storage.ReadError{Name: name, Offset: skip, Got: size}
	}
	if skip == size {
		return []byte{}, nil
	}

	if _, err := f.Seek(int64(skip), io.SeekStart); err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}

	b.logger.Debug("Read remote tail",
		zap.String("name", name),
		zap.Uint64("offset", skip),
		zap.Int("bytes", len(data)))
	return data, nil
}

// WriteFile uploads contents under a hidden name and renames it into place
func (b *Backend) WriteFile(ctx context.Context, name string, contents []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateName(name); err != nil {
		return err
	}

	partial := b.remotePath("." + name + ".part")
	f, err := b.client.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	if _, err := f.Write(contents); err != nil {
		f.Close()
		_ = b.client.Remove(partial)
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = b.client.Remove(partial)
		return fmt.Errorf("failed to close remote file: %w", err)
	}

	target := b.remotePath(name)
	if err := b.client.PosixRename(partial, target); err != nil {
		// Servers without the posix-rename extension
		if err := b.client.Rename(partial, target); err != nil {
			_ = b.client.Remove(partial)
			return fmt.Errorf("failed to rename remote file into place: %w", err)
		}
	}

	b.logger.Debug("Wrote remote file", zap.String("name", name), zap.Int("bytes", len(contents)))
	return nil
}
