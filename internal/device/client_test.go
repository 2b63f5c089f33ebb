package device

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-control/backend/internal/storage/models"
)

func controllerFor(srv *httptest.Server) models.Controller {
	return models.Controller{
		ID:           "c1",
		Address:      strings.TrimPrefix(srv.URL, "http://"),
		SharedSecret: "k3y",
	}
}

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		if r.URL.Query().Get("key") != "k3y" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"status":"ok","rssi":-60,"relays":[{"pin":2,"state":true}]}`))
	}))
	defer srv.Close()

	c := NewClient()
	report, err := c.Status(context.Background(), controllerFor(srv))
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{2: true}, report.Pins)

	wrong := controllerFor(srv)
	wrong.SharedSecret = "nope"
	_, err = c.Status(context.Background(), wrong)
	assert.ErrorIs(t, err, ErrProbeTransport)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestClientStatusTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient().Status(ctx, controllerFor(srv))
	assert.ErrorIs(t, err, ErrProbeTimeout)
}

func TestClientStatusMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>captive portal</html>`))
	}))
	defer srv.Close()

	_, err := NewClient().Status(context.Background(), controllerFor(srv))
	assert.ErrorIs(t, err, ErrProbeMalformed)
}

func TestClientStatusUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	ctrl := controllerFor(srv)
	srv.Close()

	_, err := NewClient().Status(context.Background(), ctrl)
	assert.ErrorIs(t, err, ErrProbeTransport)
	assert.NotContains(t, err.Error(), "k3y")
}

func TestClientToggle(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewClient().Toggle(context.Background(), controllerFor(srv), 4, true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/toggle", got.URL.Path)
	assert.Equal(t, "4", got.URL.Query().Get("pin"))
	assert.Equal(t, "on", got.URL.Query().Get("state"))
	assert.Equal(t, "k3y", got.URL.Query().Get("key"))
}

func TestClientToggleRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient().Toggle(context.Background(), controllerFor(srv), 4, false)
	assert.ErrorIs(t, err, ErrCommandTransport)
}

type stubResolver struct {
	addr string
	err  error
	seen []string
}

func (s *stubResolver) Resolve(_ context.Context, host string) (string, error) {
	s.seen = append(s.seen, host)
	return s.addr, s.err
}

func TestClientResolvesLocalNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pins":{"2":"off"}}`))
	}))
	defer srv.Close()

	host, port, _ := strings.Cut(strings.TrimPrefix(srv.URL, "http://"), ":")
	resolver := &stubResolver{addr: host}
	c := NewClient(WithResolver(resolver))

	ctrl := models.Controller{ID: "c1", Address: "lumina-hall.local:" + port, SharedSecret: "k"}
	report, err := c.Status(context.Background(), ctrl)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{2: false}, report.Pins)
	assert.Equal(t, []string{"lumina-hall.local"}, resolver.seen)

	resolver.err = errors.New("no answer")
	_, err = c.Status(context.Background(), ctrl)
	assert.ErrorIs(t, err, ErrProbeTransport)
}
