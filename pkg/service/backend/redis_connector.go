package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "styles:"

// RedisConnector exposes string keys under a prefix as leaves of a single root.
// The leaf name is the key without the prefix, so "styles:roads.sld" shows up as
// "roads.sld". Keys containing "/" are not addressable and are skipped.
type RedisConnector struct {
	name   string
	prefix string
	client *redis.Client
}

func NewRedisConnector(name string, cfg models.RedisConfig) *RedisConnector {
	return NewRedisConnectorWithClient(name, cfg.Prefix, redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))
}

func NewRedisConnectorWithClient(name, prefix string, client *redis.Client) *RedisConnector {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisConnector{name: name, prefix: prefix, client: client}
}

func (c *RedisConnector) Name() string             { return c.name }
func (c *RedisConnector) Kind() models.BackendKind { return models.BackendRedis }

func (c *RedisConnector) Close() error { return c.client.Close() }

func (c *RedisConnector) ListRoots(ctx context.Context) ([]Root, error) {
	root := Root{Name: c.name, Locator: "/"}
	if err := c.client.Ping(ctx).Err(); err != nil {
		root.Err = fmt.Errorf("ping redis: %w", err)
	}
	return []Root{root}, nil
}

func (c *RedisConnector) List(ctx context.Context, locator string) (*Listing, error) {
	if path.Clean("/"+locator) != "/" {
		return nil, fmt.Errorf("%s is not a container", locator)
	}
	l := &Listing{}
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s*: %w", c.prefix, err)
		}
		for _, k := range keys {
			name := strings.TrimPrefix(k, c.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			// SCAN may return a key more than once.
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			l.Entries = append(l.Entries, Entry{Name: name, Locator: "/" + name})
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return l, nil
}

func (c *RedisConnector) Stat(ctx context.Context, locator string) (*Entry, error) {
	name := strings.TrimPrefix(path.Clean("/"+locator), "/")
	if name == "" {
		return &Entry{Name: c.name, Locator: "/", Container: true}, nil
	}
	n, err := c.client.Exists(ctx, c.prefix+name).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", locator, ErrNotFound)
	}
	return &Entry{Name: name, Locator: "/" + name}, nil
}

func (c *RedisConnector) Handle(ctx context.Context, locator string) (Handle, error) {
	_ = ctx
	name := strings.TrimPrefix(path.Clean("/"+locator), "/")
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid redis locator %q", locator)
	}
	return &redisHandle{conn: c, name: name}, nil
}

func (c *RedisConnector) Join(container, name string) string {
	return "/" + name
}

type redisHandle struct {
	conn *RedisConnector
	name string
}

func (h *redisHandle) Kind() models.BackendKind { return models.BackendRedis }
func (h *redisHandle) Locator() string          { return "/" + h.name }
func (h *redisHandle) Parent() string           { return "/" }
func (h *redisHandle) Name() string             { return h.name }
func (h *redisHandle) key() string              { return h.conn.prefix + h.name }

func (h *redisHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	v, err := h.conn.client.Get(ctx, h.key()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s: %w", h.key(), ErrNotFound)
		}
		return nil, err
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

func (h *redisHandle) Create(ctx context.Context) (io.WriteCloser, error) {
	return &redisWriter{ctx: ctx, h: h}, nil
}

func (h *redisHandle) Remove(ctx context.Context) error {
	n, err := h.conn.client.Del(ctx, h.key()).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", h.key(), ErrNotFound)
	}
	return nil
}

type redisWriter struct {
	ctx    context.Context
	h      *redisHandle
	buf    strings.Builder
	closed bool
}

func (w *redisWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write on closed redis writer")
	}
	return w.buf.Write(p)
}

func (w *redisWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.h.conn.client.Set(w.ctx, w.h.key(), w.buf.String(), 0).Err()
}

var (
	_ Connector = (*RedisConnector)(nil)
	_ Closer    = (*RedisConnector)(nil)
)
