package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPPool manages SSH+SFTP connections for SFTP connections.
//
// Clients are cached per key (connection name) until Drop or CloseAll.
type SFTPPool struct {
	mu      sync.Mutex
	clients map[string]*sftpClient
}

type sftpClient struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func NewSFTPPool() *SFTPPool {
	return &SFTPPool{clients: make(map[string]*sftpClient)}
}

func (p *SFTPPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, c := range p.clients {
		_ = c.sftp.Close()
		_ = c.ssh.Close()
		delete(p.clients, k)
	}
}

// Drop closes and forgets the cached client for key, so the next GetClient redials.
func (p *SFTPPool) Drop(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := cacheKey(key)
	if c, ok := p.clients[k]; ok {
		_ = c.sftp.Close()
		_ = c.ssh.Close()
		delete(p.clients, k)
	}
}

func (p *SFTPPool) GetClient(ctx context.Context, key string, cfg models.SFTPConfig) (*sftp.Client, error) {
	k := cacheKey(key)

	p.mu.Lock()
	if cached, ok := p.clients[k]; ok {
		cli := cached.sftp
		p.mu.Unlock()
		return cli, nil
	}
	p.mu.Unlock()

	sshClient, err := dialSSH(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sftpCli, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("create sftp client: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.clients[k]; ok {
		// Lost a dial race; keep the first client.
		_ = sftpCli.Close()
		_ = sshClient.Close()
		return cached.sftp, nil
	}
	p.clients[k] = &sftpClient{ssh: sshClient, sftp: sftpCli}

	return sftpCli, nil
}

func cacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func dialSSH(ctx context.Context, cfg models.SFTPConfig) (*ssh.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host not specified")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("ssh username not specified")
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}
	if cfg.Timeout > 0 {
		sshConfig.Timeout = time.Duration(cfg.Timeout) * time.Second
	}

	if cfg.Password != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(cfg.Password))
	}
	if cfg.PrivateKeyPath != "" {
		key, err := loadPrivateKeyFromFile(cfg.PrivateKeyPath, cfg.PrivateKeyPassphrase)
		if err == nil {
			sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(key))
		}
	}
	if cfg.PrivateKey != "" {
		key, err := parsePrivateKeyString(cfg.PrivateKey, cfg.PrivateKeyPassphrase)
		if err == nil {
			sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(key))
		}
	}
	if len(sshConfig.Auth) == 0 {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(""))
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))
	dialer := &net.Dialer{Timeout: sshConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh tcp: %w", err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func loadPrivateKeyFromFile(path string, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parsePrivateKeyString(string(key), passphrase)
}

func parsePrivateKeyString(keyData string, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey([]byte(keyData))
	if err == nil {
		return signer, nil
	}
	if passphrase == "" {
		return nil, err
	}
	return ssh.ParsePrivateKeyWithPassphrase([]byte(keyData), []byte(passphrase))
}

// normalizeRemotePath is shared between pool-backed SFTP filesystem calls.
func normalizeRemotePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/", nil
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path must be absolute")
	}
	return path.Clean(p), nil
}
