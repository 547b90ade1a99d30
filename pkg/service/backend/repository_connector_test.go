package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/styletree/pkg/models"
)

// fakeRepository is an in-memory GeoServer REST style API.
type fakeRepository struct {
	mu     sync.Mutex
	styles map[string]map[string]string // workspace ("" = global) -> style -> body
	calls  []string
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{styles: map[string]map[string]string{
		"":      {"line": "<sld>line</sld>"},
		"topp":  {"roads": "<sld>roads</sld>"},
		"empty": {},
	}}
}

func (f *fakeRepository) server(t *testing.T) *httptest.Server {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Any("/rest/*path", f.serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func named(key string, names []string) gin.H {
	if len(names) == 0 {
		return gin.H{key: ""}
	}
	items := make([]gin.H, 0, len(names))
	for _, n := range names {
		items = append(items, gin.H{"name": n})
	}
	return gin.H{key: gin.H{strings.TrimSuffix(key, "s"): items}}
}

func (f *fakeRepository) serve(c *gin.Context) {
	user, pass, ok := c.Request.BasicAuth()
	if !ok || user != "admin" || pass != "geoserver" {
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c.Request.Method+" "+c.Request.URL.Path)

	p := strings.Trim(c.Param("path"), "/")
	parts := strings.Split(p, "/")
	ws := ""
	if parts[0] == "workspaces" && len(parts) >= 2 {
		ws = strings.TrimSuffix(parts[1], ".json")
		if _, ok := f.styles[ws]; !ok {
			c.String(http.StatusNotFound, "no such workspace")
			return
		}
		if len(parts) == 2 {
			c.JSON(http.StatusOK, gin.H{"workspace": gin.H{"name": ws}})
			return
		}
		parts = parts[2:]
	}

	switch {
	case p == "workspaces.json":
		var names []string
		for w := range f.styles {
			if w != "" {
				names = append(names, w)
			}
		}
		sort.Strings(names)
		c.JSON(http.StatusOK, named("workspaces", names))
	case parts[0] == "styles.json":
		var names []string
		for n := range f.styles[ws] {
			names = append(names, n)
		}
		sort.Strings(names)
		c.JSON(http.StatusOK, named("styles", names))
	case parts[0] == "styles" && len(parts) == 1 && c.Request.Method == http.MethodPost:
		body, _ := io.ReadAll(c.Request.Body)
		f.styles[ws][c.Query("name")] = string(body)
		c.Status(http.StatusCreated)
	case parts[0] == "styles" && len(parts) == 2:
		f.style(c, ws, parts[1])
	default:
		c.String(http.StatusNotFound, "not found")
	}
}

func (f *fakeRepository) style(c *gin.Context, ws, file string) {
	name := strings.TrimSuffix(strings.TrimSuffix(file, ".json"), ".sld")
	body, exists := f.styles[ws][name]
	switch c.Request.Method {
	case http.MethodGet:
		if !exists {
			c.String(http.StatusNotFound, "no such style")
			return
		}
		if strings.HasSuffix(file, ".json") {
			c.JSON(http.StatusOK, gin.H{"style": gin.H{"name": name}})
			return
		}
		c.Data(http.StatusOK, sldContentType, []byte(body))
	case http.MethodPut:
		if !exists {
			c.String(http.StatusNotFound, "no such style")
			return
		}
		b, _ := io.ReadAll(c.Request.Body)
		f.styles[ws][name] = string(b)
		c.Status(http.StatusOK)
	case http.MethodDelete:
		if !exists {
			c.String(http.StatusNotFound, "no such style")
			return
		}
		delete(f.styles[ws], name)
		c.Status(http.StatusOK)
	}
}

func (f *fakeRepository) body(ws, name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.styles[ws][name]
	return b, ok
}

func newTestRepository(t *testing.T) (*RepositoryConnector, *fakeRepository) {
	t.Helper()
	fake := newFakeRepository()
	srv := fake.server(t)
	return NewRepositoryConnector("geo", models.RepositoryConfig{URL: srv.URL + "/", Username: "admin", Password: "geoserver"}), fake
}

func entryNames(l *Listing) []string {
	out := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		out = append(out, e.Name)
	}
	return out
}

func readAll(t *testing.T, h Handle) string {
	t.Helper()
	rc, err := h.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func write(t *testing.T, h Handle, data string) {
	t.Helper()
	w, err := h.Create(context.Background())
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestRepositoryConnector_RootsAndListing(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRepository(t)

	roots, err := c.ListRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, Root{Name: "geo", Locator: "/"}, roots[0])

	l, err := c.List(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "topp", "line.sld"}, entryNames(l))
	assert.True(t, l.Entries[0].Container)
	assert.Equal(t, "/line.sld", l.Entries[2].Locator)

	l, err = c.List(ctx, "/topp")
	require.NoError(t, err)
	require.Equal(t, []string{"roads.sld"}, entryNames(l))
	assert.Equal(t, "/topp/roads.sld", l.Entries[0].Locator)

	l, err = c.List(ctx, "/empty")
	require.NoError(t, err)
	assert.Empty(t, l.Entries)

	_, err = c.List(ctx, "/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.List(ctx, "/topp/roads.sld")
	assert.Error(t, err)
}

func TestRepositoryConnector_UnreachableRoot(t *testing.T) {
	fake := newFakeRepository()
	srv := fake.server(t)
	c := NewRepositoryConnector("geo", models.RepositoryConfig{URL: srv.URL, Username: "admin", Password: "wrong"})

	roots, err := c.ListRoots(context.Background())
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Error(t, roots[0].Err)
	assert.Contains(t, roots[0].Err.Error(), "401")

	down := NewRepositoryConnector("down", models.RepositoryConfig{URL: "http://127.0.0.1:1", Timeout: 1})
	roots, err = down.ListRoots(context.Background())
	require.NoError(t, err)
	assert.Error(t, roots[0].Err)
}

func TestRepositoryConnector_Stat(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRepository(t)

	e, err := c.Stat(ctx, "/topp")
	require.NoError(t, err)
	assert.True(t, e.Container)

	e, err = c.Stat(ctx, "/topp/roads.sld")
	require.NoError(t, err)
	assert.Equal(t, "roads.sld", e.Name)
	assert.False(t, e.Container)

	_, err = c.Stat(ctx, "/topp/nope.sld")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryConnector_HandleReadWriteRemove(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestRepository(t)

	h, err := c.Handle(ctx, "/topp/roads.sld")
	require.NoError(t, err)
	assert.Equal(t, "roads.sld", h.Name())
	assert.Equal(t, "/topp", h.Parent())
	assert.Equal(t, "<sld>roads</sld>", readAll(t, h))

	write(t, h, "<sld>roads v2</sld>")
	body, _ := fake.body("topp", "roads")
	assert.Equal(t, "<sld>roads v2</sld>", body)

	nh, err := c.Handle(ctx, c.Join("/topp", "rivers.sld"))
	require.NoError(t, err)
	write(t, nh, "<sld>rivers</sld>")
	body, ok := fake.body("topp", "rivers")
	require.True(t, ok, "missing style is created with POST")
	assert.Equal(t, "<sld>rivers</sld>", body)

	gh, err := c.Handle(ctx, "/line.sld")
	require.NoError(t, err)
	assert.Equal(t, "/", gh.Parent())
	require.NoError(t, gh.Remove(ctx))
	_, ok = fake.body("", "line")
	assert.False(t, ok)
	assert.ErrorIs(t, gh.Remove(ctx), ErrNotFound)

	_, err = c.Handle(ctx, "/topp")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestParseRepoLocator(t *testing.T) {
	tests := []struct {
		locator string
		ws      string
		style   string
		wantErr bool
	}{
		{locator: "/"},
		{locator: "", ws: ""},
		{locator: "/topp", ws: "topp"},
		{locator: "/line.sld", style: "line"},
		{locator: "/topp/roads.sld", ws: "topp", style: "roads"},
		{locator: "/topp/roads", wantErr: true},
		{locator: "/a/b/c.sld", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			ws, style, err := parseRepoLocator(tt.locator)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ws, ws)
			assert.Equal(t, tt.style, style)
		})
	}
}
