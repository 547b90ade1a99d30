package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/choraleia/styletree/pkg/models"
)

const (
	sldContentType = "application/vnd.ogc.sld+xml"
	styleSuffix    = ".sld"
)

// RepositoryConnector exposes a GeoServer-style REST style repository.
//
// Locators:
//
//	/               the repository (root)
//	/<ws>           a workspace
//	/<name>.sld     a global style
//	/<ws>/<name>.sld a workspace style
type RepositoryConnector struct {
	name     string
	baseURL  string
	username string
	password string
	client   *http.Client
}

func NewRepositoryConnector(name string, cfg models.RepositoryConfig) *RepositoryConnector {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &RepositoryConnector{
		name:     name,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *RepositoryConnector) Name() string             { return c.name }
func (c *RepositoryConnector) Kind() models.BackendKind { return models.BackendRepository }

type restNamed struct {
	Name string `json:"name"`
}

// GeoServer renders an empty collection as "" instead of an object, so the inner
// lists are decoded lazily.
type workspaceList struct {
	Workspaces json.RawMessage `json:"workspaces"`
}

type styleList struct {
	Styles json.RawMessage `json:"styles"`
}

func decodeNamed(raw json.RawMessage, field string) ([]restNamed, error) {
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var inner map[string][]restNamed
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, err
	}
	return inner[field], nil
}

func (c *RepositoryConnector) ListRoots(ctx context.Context) ([]Root, error) {
	root := Root{Name: c.name, Locator: "/"}
	if _, err := c.workspaces(ctx); err != nil {
		root.Err = err
	}
	return []Root{root}, nil
}

func (c *RepositoryConnector) workspaces(ctx context.Context) ([]restNamed, error) {
	var wl workspaceList
	if err := c.getJSON(ctx, "/rest/workspaces.json", &wl); err != nil {
		return nil, err
	}
	return decodeNamed(wl.Workspaces, "workspace")
}

func (c *RepositoryConnector) styles(ctx context.Context, ws string) ([]restNamed, error) {
	var sl styleList
	if err := c.getJSON(ctx, stylesPath(ws)+".json", &sl); err != nil {
		return nil, err
	}
	return decodeNamed(sl.Styles, "style")
}

func (c *RepositoryConnector) List(ctx context.Context, locator string) (*Listing, error) {
	ws, name, err := parseRepoLocator(locator)
	if err != nil {
		return nil, err
	}
	if name != "" {
		return nil, fmt.Errorf("%s is not a container", locator)
	}

	l := &Listing{}
	if ws == "" {
		workspaces, err := c.workspaces(ctx)
		if err != nil {
			return nil, err
		}
		for _, w := range workspaces {
			l.Entries = append(l.Entries, Entry{Name: w.Name, Locator: "/" + w.Name, Container: true})
		}
	}
	styles, err := c.styles(ctx, ws)
	if err != nil {
		if ws == "" {
			// Global styles are optional; workspaces are already listed.
			l.Faults = append(l.Faults, Fault{Name: "styles", Locator: "/", Err: err})
			return l, nil
		}
		return nil, err
	}
	for _, s := range styles {
		leaf := s.Name + styleSuffix
		l.Entries = append(l.Entries, Entry{Name: leaf, Locator: c.Join(locator, leaf)})
	}
	return l, nil
}

func (c *RepositoryConnector) Stat(ctx context.Context, locator string) (*Entry, error) {
	ws, name, err := parseRepoLocator(locator)
	if err != nil {
		return nil, err
	}
	switch {
	case ws == "" && name == "":
		return &Entry{Name: c.name, Locator: "/", Container: true}, nil
	case name == "":
		var out map[string]json.RawMessage
		if err := c.getJSON(ctx, "/rest/workspaces/"+url.PathEscape(ws)+".json", &out); err != nil {
			return nil, err
		}
		return &Entry{Name: ws, Locator: "/" + ws, Container: true}, nil
	default:
		var out map[string]json.RawMessage
		if err := c.getJSON(ctx, stylesPath(ws)+"/"+url.PathEscape(name)+".json", &out); err != nil {
			return nil, err
		}
		return &Entry{Name: name + styleSuffix, Locator: locator}, nil
	}
}

func (c *RepositoryConnector) Handle(ctx context.Context, locator string) (Handle, error) {
	_ = ctx
	ws, name, err := parseRepoLocator(locator)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%s is not a style: %w", locator, ErrUnsupported)
	}
	return &repoHandle{conn: c, ws: ws, style: name, locator: locator}, nil
}

func (c *RepositoryConnector) Join(container, name string) string {
	return path.Join("/", container, name)
}

// parseRepoLocator splits a locator into workspace and style name (without the
// .sld suffix). Either may be empty.
func parseRepoLocator(locator string) (ws, style string, err error) {
	p := strings.Trim(path.Clean("/"+locator), "/")
	if p == "" {
		return "", "", nil
	}
	parts := strings.Split(p, "/")
	switch len(parts) {
	case 1:
		if strings.HasSuffix(parts[0], styleSuffix) {
			return "", strings.TrimSuffix(parts[0], styleSuffix), nil
		}
		return parts[0], "", nil
	case 2:
		if !strings.HasSuffix(parts[1], styleSuffix) {
			return "", "", fmt.Errorf("invalid style locator %q", locator)
		}
		return parts[0], strings.TrimSuffix(parts[1], styleSuffix), nil
	}
	return "", "", fmt.Errorf("invalid repository locator %q", locator)
}

func stylesPath(ws string) string {
	if ws == "" {
		return "/rest/styles"
	}
	return "/rest/workspaces/" + url.PathEscape(ws) + "/styles"
}

func (c *RepositoryConnector) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func (c *RepositoryConnector) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return nil, statusError(req, resp.StatusCode, strings.TrimSpace(string(msg)))
}

func statusError(req *http.Request, status int, msg string) error {
	err := fmt.Errorf("%s %s: HTTP %d %s", req.Method, req.URL.Path, status, msg)
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func (c *RepositoryConnector) getJSON(ctx context.Context, p string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return nil
}

type repoHandle struct {
	conn    *RepositoryConnector
	ws      string
	style   string
	locator string
}

func (h *repoHandle) Kind() models.BackendKind { return models.BackendRepository }
func (h *repoHandle) Locator() string          { return h.locator }
func (h *repoHandle) Name() string             { return h.style + styleSuffix }

func (h *repoHandle) Parent() string {
	if h.ws == "" {
		return "/"
	}
	return "/" + h.ws
}

func (h *repoHandle) stylePath() string {
	return stylesPath(h.ws) + "/" + url.PathEscape(h.style)
}

func (h *repoHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := h.conn.newRequest(ctx, http.MethodGet, h.stylePath()+styleSuffix, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", sldContentType)
	resp, err := h.conn.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Create buffers the style body; it is uploaded on Close (update, or create when
// the style does not exist yet).
func (h *repoHandle) Create(ctx context.Context) (io.WriteCloser, error) {
	return &repoWriter{ctx: ctx, h: h}, nil
}

func (h *repoHandle) Remove(ctx context.Context) error {
	req, err := h.conn.newRequest(ctx, http.MethodDelete, h.stylePath()+"?purge=true", nil)
	if err != nil {
		return err
	}
	resp, err := h.conn.do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (h *repoHandle) upload(ctx context.Context, body []byte) error {
	req, err := h.conn.newRequest(ctx, http.MethodPut, h.stylePath(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", sldContentType)
	resp, err := h.conn.do(req)
	if err == nil {
		return resp.Body.Close()
	}
	if !isNotFound(err) {
		return err
	}

	req, err = h.conn.newRequest(ctx, http.MethodPost, stylesPath(h.ws)+"?name="+url.QueryEscape(h.style), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", sldContentType)
	resp, err = h.conn.do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

type repoWriter struct {
	ctx    context.Context
	h      *repoHandle
	buf    bytes.Buffer
	closed bool
}

func (w *repoWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write on closed style writer")
	}
	return w.buf.Write(p)
}

func (w *repoWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.h.upload(w.ctx, w.buf.Bytes())
}

var _ Connector = (*RepositoryConnector)(nil)
