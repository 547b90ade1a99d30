package backend

import (
	"fmt"
	"sync"

	"github.com/choraleia/styletree/pkg/models"
	fsimpl "github.com/choraleia/styletree/pkg/service/fs"
)

// Registry holds the connectors of a tree, keyed by name, in registration order.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	connectors map[string]Connector

	sftpPool      *fsimpl.SFTPPool
	includeHidden bool
}

func NewRegistry(includeHidden bool) *Registry {
	return &Registry{
		connectors:    make(map[string]Connector),
		sftpPool:      fsimpl.NewSFTPPool(),
		includeHidden: includeHidden,
	}
}

// Add registers c, replacing any connector with the same name.
func (r *Registry) Add(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.connectors[c.Name()]; ok {
		closeConnector(old)
	} else {
		r.order = append(r.order, c.Name())
	}
	r.connectors[c.Name()] = c
}

func (r *Registry) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	return c, ok
}

func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connectors[name]
	if !ok {
		return false
	}
	closeConnector(c)
	r.sftpPool.Drop(name)
	delete(r.connectors, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns the connectors in registration order.
func (r *Registry) All() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.connectors[n])
	}
	return out
}

// FromConnection builds the connector for a saved connection.
func (r *Registry) FromConnection(conn *models.Connection) (Connector, error) {
	if err := conn.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("connection %s: %w", conn.Name, err)
	}
	switch conn.Kind {
	case models.BackendRepository:
		var cfg models.RepositoryConfig
		if err := conn.GetTypedConfig(&cfg); err != nil {
			return nil, err
		}
		return NewRepositoryConnector(conn.Name, cfg), nil
	case models.BackendDatabase:
		var cfg models.DatabaseConfig
		if err := conn.GetTypedConfig(&cfg); err != nil {
			return nil, err
		}
		return NewDatabaseConnector(conn.Name, cfg), nil
	case models.BackendSFTP:
		var cfg models.SFTPConfig
		if err := conn.GetTypedConfig(&cfg); err != nil {
			return nil, err
		}
		return NewSFTPConnector(conn.Name, cfg, r.sftpPool, r.includeHidden), nil
	case models.BackendRedis:
		var cfg models.RedisConfig
		if err := conn.GetTypedConfig(&cfg); err != nil {
			return nil, err
		}
		return NewRedisConnector(conn.Name, cfg), nil
	}
	return nil, fmt.Errorf("unknown connection kind: %s", conn.Kind)
}

// Close releases every connector holding network resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.connectors {
		closeConnector(c)
	}
	r.sftpPool.CloseAll()
	return nil
}

func closeConnector(c Connector) {
	if cl, ok := c.(Closer); ok {
		_ = cl.Close()
	}
}
