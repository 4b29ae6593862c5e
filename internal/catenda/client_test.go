package catenda

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/breaker"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/config"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

type fakeCatenda struct {
	mu       sync.Mutex
	requests []string
	comments []string
	refs     []map[string]any
	topic    map[string]any
	params   string
	upload   []byte
	auth     []string
	failPath string
	failCode int
}

func (f *fakeCatenda) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("POST /v2/projects/p1/libraries/lib1/items", func(w http.ResponseWriter, r *http.Request) {
		f.params = r.Header.Get("Bimsync-Params")
		f.upload, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"id":"doc-9"}`)
	})
	mux.HandleFunc("POST /opencde/bcf/3.0/projects/p1/topics/{case}/document_references", func(w http.ResponseWriter, r *http.Request) {
		var ref map[string]any
		_ = json.NewDecoder(r.Body).Decode(&ref)
		f.refs = append(f.refs, ref)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /opencde/bcf/3.0/projects/p1/topics/{case}/comments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.comments = append(f.comments, body["comment"])
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /opencde/bcf/3.0/projects/p1/topics/{case}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"guid": r.PathValue("case"), "title": "Fravik", "topic_status": "Open"})
	})
	mux.HandleFunc("PUT /opencde/bcf/3.0/projects/p1/topics/{case}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.topic)
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		if r.URL.Path != "/oauth/token" {
			f.auth = append(f.auth, r.Header.Get("Authorization"))
		}
		if f.failPath != "" && r.URL.Path == f.failPath {
			code := f.failCode
			if code == 0 {
				code = http.StatusInternalServerError
			}
			http.Error(w, "nope", code)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func newClient(t *testing.T, f *fakeCatenda, withAuth bool) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	cfg := config.CatendaConfig{
		BaseURL:   srv.URL + "/",
		ProjectID: "p1",
		LibraryID: "lib1",
		Timeout:   5 * time.Second,
	}
	if withAuth {
		cfg.TokenURL = srv.URL + "/oauth/token"
		cfg.ClientID = "id"
		cfg.ClientSecret = "secret"
	}
	return New(context.Background(), cfg, nil, zap.NewNop())
}

func TestUploadDocument(t *testing.T) {
	f := &fakeCatenda{}
	c := newClient(t, f, true)

	id, err := c.UploadDocument(context.Background(), "CASE-1", &models.Document{
		FileName: "fravik-S-1.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.3"),
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-9", id)
	assert.Equal(t, []byte("%PDF-1.3"), f.upload)
	assert.JSONEq(t, `{"name":"fravik-S-1.pdf","document":{"type":"file","filename":"fravik-S-1.pdf"}}`, f.params)
	require.Len(t, f.refs, 1)
	assert.Equal(t, "doc-9", f.refs[0]["document_guid"])
	for _, a := range f.auth {
		assert.Equal(t, "Bearer tok-1", a)
	}
}

func TestPostComment(t *testing.T) {
	f := &fakeCatenda{}
	c := newClient(t, f, false)

	require.NoError(t, c.PostComment(context.Background(), "CASE-1", "Ny fravikssøknad er sendt inn. Se vedlegg.", []string{"doc-9"}))
	require.Len(t, f.comments, 1)
	assert.Equal(t, "Ny fravikssøknad er sendt inn. Se vedlegg.\n\nVedlegg: doc-9", f.comments[0])
	assert.Equal(t, []string{""}, f.auth)
}

func TestSetStatusKeepsTopicFields(t *testing.T) {
	f := &fakeCatenda{}
	c := newClient(t, f, false)

	require.NoError(t, c.SetStatus(context.Background(), "CASE-1", models.CaseClosed))
	assert.Equal(t, map[string]any{"guid": "CASE-1", "title": "Fravik", "topic_status": "Closed"}, f.topic)
	assert.Equal(t, []string{
		"GET /opencde/bcf/3.0/projects/p1/topics/CASE-1",
		"PUT /opencde/bcf/3.0/projects/p1/topics/CASE-1",
	}, f.requests)
}

func TestAPIError(t *testing.T) {
	f := &fakeCatenda{failPath: "/opencde/bcf/3.0/projects/p1/topics/CASE-1/comments"}
	c := newClient(t, f, false)

	err := c.PostComment(context.Background(), "CASE-1", "x", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "post comment", apiErr.Op)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	f := &fakeCatenda{failPath: "/opencde/bcf/3.0/projects/p1/topics/CASE-1/comments"}
	c := newClient(t, f, false)
	c.breaker = breaker.New("catenda-test", config.BreakerConfig{
		Enabled: true, MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2,
	}, zap.NewNop())

	ctx := context.Background()
	_ = c.PostComment(ctx, "CASE-1", "x", nil)
	_ = c.PostComment(ctx, "CASE-1", "x", nil)
	err := c.PostComment(ctx, "CASE-1", "x", nil)
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Len(t, f.requests, 2)
}

func TestUnknownTopicDoesNotOpenBreaker(t *testing.T) {
	f := &fakeCatenda{failPath: "/opencde/bcf/3.0/projects/p1/topics/WRONG/comments", failCode: http.StatusNotFound}
	c := newClient(t, f, false)
	c.breaker = breaker.New("catenda-test-404", config.BreakerConfig{
		Enabled: true, MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2,
	}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := c.PostComment(ctx, "WRONG", "x", nil)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	}
	assert.Equal(t, "closed", c.breaker.State())

	require.NoError(t, c.PostComment(ctx, "CASE-1", "x", nil))
	assert.Len(t, f.requests, 6)
}

func TestAPIErrorClientError(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: http.StatusNotFound}).ClientError())
	assert.True(t, (&APIError{StatusCode: http.StatusBadRequest}).ClientError())
	assert.False(t, (&APIError{StatusCode: http.StatusTooManyRequests}).ClientError())
	assert.False(t, (&APIError{StatusCode: http.StatusBadGateway}).ClientError())
}
