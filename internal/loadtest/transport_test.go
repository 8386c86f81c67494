package loadtest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_GetAndPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Agent", r.UserAgent())
		w.Header().Set("X-Auth", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(DefaultHTTPClientConfig())
	defer tr.CloseIdleConnections()

	resp, err := tr.Get(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer t"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "GET", resp.Headers.Get("X-Method"))
	assert.Equal(t, "merchload", resp.Headers.Get("X-Agent"))
	assert.Equal(t, "Bearer t", resp.Headers.Get("X-Auth"))
	assert.Empty(t, resp.Body)

	resp, err = tr.Post(context.Background(), srv.URL, []byte(`{"amount":1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "POST", resp.Headers.Get("X-Method"))
	assert.Equal(t, `{"amount":1}`, string(resp.Body))
}

func TestHTTPTransport_BodyIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", MaxResponseBody+1024))
	}))
	defer srv.Close()

	resp, err := NewHTTPTransport(DefaultHTTPClientConfig()).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Body, MaxResponseBody)
}

func TestHTTPTransport_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := DefaultHTTPClientConfig()
	cfg.Timeout = 20 * time.Millisecond
	_, err := NewHTTPTransport(cfg).Get(context.Background(), srv.URL, nil)

	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "GET", tErr.Method)
	assert.Equal(t, srv.URL, tErr.URL)

	_, err = NewHTTPTransport(DefaultHTTPClientConfig()).Get(context.Background(), "://bad", nil)
	require.ErrorAs(t, err, &tErr)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestIssue_Dispatch(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK}

	_, err := issue(context.Background(), ft, &Request{Method: http.MethodGet, URL: "http://x/api/info"})
	require.NoError(t, err)
	_, err = issue(context.Background(), ft, &Request{Method: http.MethodPost, URL: "http://x/api/sendCoin", Body: []byte("{}")})
	require.NoError(t, err)

	_, err = issue(context.Background(), ft, &Request{Method: http.MethodDelete, URL: "http://x"})
	var tErr *TransportError
	assert.ErrorAs(t, err, &tErr)
}
