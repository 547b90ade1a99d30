package backend

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/choraleia/styletree/pkg/models"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

const (
	// StylesTable holds styles stored inside a database connection.
	StylesTable = "layer_styles"
	// TableDiscriminator is the backend-type tag of database feature tables.
	TableDiscriminator = "table"

	tablePrefix = "/table/"
	stylePrefix = "/style/"
)

type dialect struct {
	driver string
	quote  func(string) string
	tables string
	// bind rewrites "?" placeholders for drivers that use numbered ones.
	bind func(string) string
}

func identity(q string) string { return q }

func dollarBind(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func doubleQuote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
func backQuote(id string) string   { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

func dialectFor(cfg models.DatabaseConfig) (dialect, string, error) {
	switch cfg.Driver {
	case "sqlite":
		return dialect{
			driver: "sqlite",
			quote:  doubleQuote,
			tables: `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
			bind:   identity,
		}, cfg.Database, nil
	case "mysql":
		port := cfg.Port
		if port <= 0 {
			port = 3306
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%ds",
			cfg.Username, cfg.Password, cfg.Host, port, cfg.Database, timeout)
		if cfg.SSL {
			dsn += "&tls=true"
		}
		return dialect{driver: "mysql", quote: backQuote, tables: "SHOW TABLES", bind: identity}, dsn, nil
	case "postgres":
		port := cfg.Port
		if port <= 0 {
			port = 5432
		}
		schema := cfg.Schema
		if schema == "" {
			schema = "public"
		}
		sslMode := "disable"
		if cfg.SSL {
			sslMode = "require"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, port, cfg.Username, cfg.Password, cfg.Database, sslMode)
		if cfg.Timeout > 0 {
			dsn += fmt.Sprintf(" connect_timeout=%d", cfg.Timeout)
		}
		tables := fmt.Sprintf(`SELECT table_name FROM information_schema.tables WHERE table_schema = '%s' ORDER BY table_name`,
			strings.ReplaceAll(schema, "'", "''"))
		return dialect{driver: "postgres", quote: doubleQuote, tables: tables, bind: dollarBind}, dsn, nil
	}
	return dialect{}, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// DatabaseConnector exposes one database connection. Its children are the feature
// tables (leaves discriminated by TableDiscriminator) and the styles stored in
// the layer_styles table (leaves named "<style>.sld").
type DatabaseConnector struct {
	name    string
	dialect dialect
	dsn     string
	initErr error

	mu sync.Mutex
	db *sql.DB
}

func NewDatabaseConnector(name string, cfg models.DatabaseConfig) *DatabaseConnector {
	d, dsn, err := dialectFor(cfg)
	return &DatabaseConnector{name: name, dialect: d, dsn: dsn, initErr: err}
}

func (c *DatabaseConnector) Name() string             { return c.name }
func (c *DatabaseConnector) Kind() models.BackendKind { return models.BackendDatabase }

func (c *DatabaseConnector) conn(ctx context.Context) (*sql.DB, error) {
	if c.initErr != nil {
		return nil, c.initErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	db, err := sql.Open(c.dialect.driver, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.dialect.driver, err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	if c.dialect.driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", c.name, err)
	}
	c.db = db
	return db, nil
}

func (c *DatabaseConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *DatabaseConnector) ListRoots(ctx context.Context) ([]Root, error) {
	root := Root{Name: c.name, Locator: "/"}
	if _, err := c.conn(ctx); err != nil {
		root.Err = err
	}
	return []Root{root}, nil
}

func (c *DatabaseConnector) tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, c.dialect.tables)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (c *DatabaseConnector) styleNames(ctx context.Context, db *sql.DB) ([]string, error) {
	q := fmt.Sprintf("SELECT styleName FROM %s ORDER BY styleName", c.dialect.quote(StylesTable))
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list styles: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (c *DatabaseConnector) List(ctx context.Context, locator string) (*Listing, error) {
	if path.Clean("/"+locator) != "/" {
		return nil, fmt.Errorf("%s is not a container", locator)
	}
	db, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	tables, err := c.tables(ctx, db)
	if err != nil {
		return nil, err
	}

	l := &Listing{}
	hasStyles := false
	for _, t := range tables {
		if strings.EqualFold(t, StylesTable) {
			hasStyles = true
			continue
		}
		l.Entries = append(l.Entries, Entry{Name: t, Locator: tablePrefix + t, Discriminator: TableDiscriminator})
	}
	if hasStyles {
		styles, err := c.styleNames(ctx, db)
		if err != nil {
			l.Faults = append(l.Faults, Fault{Name: StylesTable, Locator: tablePrefix + StylesTable, Err: err})
		}
		for _, s := range styles {
			leaf := s + styleSuffix
			l.Entries = append(l.Entries, Entry{Name: leaf, Locator: stylePrefix + leaf})
		}
	}
	return l, nil
}

func (c *DatabaseConnector) Stat(ctx context.Context, locator string) (*Entry, error) {
	if path.Clean("/"+locator) == "/" {
		return &Entry{Name: c.name, Locator: "/", Container: true}, nil
	}
	l, err := c.List(ctx, "/")
	if err != nil {
		return nil, err
	}
	for _, e := range l.Entries {
		if e.Locator == locator {
			e := e
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", locator, ErrNotFound)
}

func (c *DatabaseConnector) Handle(ctx context.Context, locator string) (Handle, error) {
	_ = ctx
	switch {
	case strings.HasPrefix(locator, tablePrefix):
		return &tableHandle{conn: c, table: strings.TrimPrefix(locator, tablePrefix)}, nil
	case strings.HasPrefix(locator, stylePrefix) && strings.HasSuffix(locator, styleSuffix):
		name := strings.TrimSuffix(strings.TrimPrefix(locator, stylePrefix), styleSuffix)
		if name == "" {
			return nil, fmt.Errorf("invalid style locator %q", locator)
		}
		return &dbStyleHandle{conn: c, style: name}, nil
	}
	return nil, fmt.Errorf("%s: %w", locator, ErrUnsupported)
}

// Join places resources into the connection: styles under /style/, anything
// else is addressed as a table.
func (c *DatabaseConnector) Join(container, name string) string {
	if strings.HasSuffix(strings.ToLower(name), styleSuffix) {
		return stylePrefix + strings.TrimSuffix(name, path.Ext(name)) + styleSuffix
	}
	return tablePrefix + name
}

type tableHandle struct {
	conn  *DatabaseConnector
	table string
}

func (h *tableHandle) Kind() models.BackendKind { return models.BackendDatabase }
func (h *tableHandle) Locator() string          { return tablePrefix + h.table }
func (h *tableHandle) Parent() string           { return "/" }
func (h *tableHandle) Name() string             { return h.table }

// Open returns the table's column description, one "name<TAB>type" line each.
func (h *tableHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	db, err := h.conn.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", h.conn.dialect.quote(h.table)))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", h.table, err)
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, t := range types {
		fmt.Fprintf(&buf, "%s\t%s\n", t.Name(), t.DatabaseTypeName())
	}
	return io.NopCloser(&buf), nil
}

func (h *tableHandle) Create(ctx context.Context) (io.WriteCloser, error) {
	return nil, fmt.Errorf("table %s: %w", h.table, ErrReadOnly)
}

func (h *tableHandle) Remove(ctx context.Context) error {
	return fmt.Errorf("table %s: %w", h.table, ErrReadOnly)
}

type dbStyleHandle struct {
	conn  *DatabaseConnector
	style string
}

func (h *dbStyleHandle) Kind() models.BackendKind { return models.BackendDatabase }
func (h *dbStyleHandle) Locator() string          { return stylePrefix + h.style + styleSuffix }
func (h *dbStyleHandle) Parent() string           { return "/" }
func (h *dbStyleHandle) Name() string             { return h.style + styleSuffix }

func (h *dbStyleHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	db, err := h.conn.conn(ctx)
	if err != nil {
		return nil, err
	}
	d := h.conn.dialect
	q := d.bind(fmt.Sprintf("SELECT styleSLD FROM %s WHERE styleName = ?", d.quote(StylesTable)))
	var body string
	if err := db.QueryRowContext(ctx, q, h.style).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("style %s: %w", h.style, ErrNotFound)
		}
		return nil, err
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (h *dbStyleHandle) Create(ctx context.Context) (io.WriteCloser, error) {
	return &dbStyleWriter{ctx: ctx, h: h}, nil
}

func (h *dbStyleHandle) Remove(ctx context.Context) error {
	db, err := h.conn.conn(ctx)
	if err != nil {
		return err
	}
	d := h.conn.dialect
	res, err := db.ExecContext(ctx, d.bind(fmt.Sprintf("DELETE FROM %s WHERE styleName = ?", d.quote(StylesTable))), h.style)
	if err != nil {
		return fmt.Errorf("delete style %s: %w", h.style, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("style %s: %w", h.style, ErrNotFound)
	}
	return nil
}

func (h *dbStyleHandle) store(ctx context.Context, body string) error {
	db, err := h.conn.conn(ctx)
	if err != nil {
		return err
	}
	d := h.conn.dialect
	table := d.quote(StylesTable)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (styleName VARCHAR(255) PRIMARY KEY, styleSLD TEXT NOT NULL, update_time VARCHAR(64))", table)
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create %s: %w", StylesTable, err)
	}
	if _, err := tx.ExecContext(ctx, d.bind(fmt.Sprintf("DELETE FROM %s WHERE styleName = ?", table)), h.style); err != nil {
		return fmt.Errorf("replace style %s: %w", h.style, err)
	}
	insert := d.bind(fmt.Sprintf("INSERT INTO %s (styleName, styleSLD, update_time) VALUES (?, ?, ?)", table))
	if _, err := tx.ExecContext(ctx, insert, h.style, body, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("insert style %s: %w", h.style, err)
	}
	return tx.Commit()
}

type dbStyleWriter struct {
	ctx    context.Context
	h      *dbStyleHandle
	buf    bytes.Buffer
	closed bool
}

func (w *dbStyleWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write on closed style writer")
	}
	return w.buf.Write(p)
}

func (w *dbStyleWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.h.store(w.ctx, w.buf.String())
}

var (
	_ Connector = (*DatabaseConnector)(nil)
	_ Closer    = (*DatabaseConnector)(nil)
)
