// Package store persists saved backend connections.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/choraleia/styletree/pkg/event"
	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/utils"
)

var (
	ErrConnectionNotFound     = errors.New("connection not found")
	ErrConnectionNameExists   = errors.New("connection name already exists")
	ErrConnectionNameEmpty    = errors.New("connection name is empty")
	ErrConnectionNameReserved = errors.New("connection name is reserved") // built-in connector names
)

// ConnectionStore keeps connections in a SQLite database.
type ConnectionStore struct {
	db      *gorm.DB
	emitter *event.Emitter
	logger  *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, emitter *event.Emitter) (*ConnectionStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	s := NewConnectionStore(db, emitter)
	if err := s.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate store %s: %w", path, err)
	}
	return s, nil
}

// NewConnectionStore wraps an already opened database.
func NewConnectionStore(db *gorm.DB, emitter *event.Emitter) *ConnectionStore {
	return &ConnectionStore{
		db:      db,
		emitter: emitter,
		logger:  utils.GetLogger().With("component", "store"),
	}
}

// AutoMigrate creates database tables
func (s *ConnectionStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Connection{})
}

// Close closes the underlying database.
func (s *ConnectionStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *ConnectionStore) emit(ev event.Event) {
	if s.emitter != nil {
		s.emitter.Emit(ev)
	}
}

// Create validates and saves a new connection.
func (s *ConnectionStore) Create(ctx context.Context, req *models.CreateConnectionRequest) (*models.Connection, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrConnectionNameEmpty
	}
	if models.IsReservedConnectionName(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrConnectionNameReserved)
	}
	if err := s.checkName(ctx, name, ""); err != nil {
		return nil, err
	}

	conn := &models.Connection{
		ID:          uuid.New().String(),
		Name:        name,
		Kind:        req.Kind,
		Description: req.Description,
		Config:      req.Config,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := conn.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(conn).Error; err != nil {
		return nil, fmt.Errorf("save connection: %w", err)
	}
	s.logger.Info("connection created", "id", conn.ID, "name", conn.Name, "kind", conn.Kind)
	s.emit(event.ConnectionCreatedEvent{ConnectionID: conn.ID})
	return conn, nil
}

// Get retrieves a connection by ID.
func (s *ConnectionStore) Get(ctx context.Context, id string) (*models.Connection, error) {
	var conn models.Connection
	if err := s.db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// GetByName retrieves a connection by its unique name.
func (s *ConnectionStore) GetByName(ctx context.Context, name string) (*models.Connection, error) {
	var conn models.Connection
	if err := s.db.WithContext(ctx).First(&conn, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// List returns all connections ordered by name.
func (s *ConnectionStore) List(ctx context.Context) ([]models.Connection, error) {
	var conns []models.Connection
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// Update applies the non-nil fields of req.
func (s *ConnectionStore) Update(ctx context.Context, id string, req *models.UpdateConnectionRequest) (*models.Connection, error) {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, ErrConnectionNameEmpty
		}
		if models.IsReservedConnectionName(name) {
			return nil, fmt.Errorf("%q: %w", name, ErrConnectionNameReserved)
		}
		if name != conn.Name {
			if err := s.checkName(ctx, name, id); err != nil {
				return nil, err
			}
		}
		conn.Name = name
	}
	if req.Description != nil {
		conn.Description = *req.Description
	}
	if req.Config != nil {
		conn.Config = req.Config
	}
	if err := conn.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	conn.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(conn).Error; err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}
	s.logger.Info("connection updated", "id", conn.ID, "name", conn.Name)
	s.emit(event.ConnectionUpdatedEvent{ConnectionID: conn.ID})
	return conn, nil
}

// Delete removes a connection and returns what was removed.
func (s *ConnectionStore) Delete(ctx context.Context, id string) (*models.Connection, error) {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&models.Connection{}, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("delete connection: %w", err)
	}
	s.logger.Info("connection deleted", "id", id, "name", conn.Name)
	s.emit(event.ConnectionDeletedEvent{ConnectionID: id})
	return conn, nil
}

func (s *ConnectionStore) checkName(ctx context.Context, name, exceptID string) error {
	q := s.db.WithContext(ctx).Model(&models.Connection{}).Where("name = ?", name)
	if exceptID != "" {
		q = q.Where("id != ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrConnectionNameExists
	}
	return nil
}
