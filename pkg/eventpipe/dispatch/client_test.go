package dispatch_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/randalmurphal/eventpipe/pkg/eventpipe/dispatch"
	eperrors "github.com/randalmurphal/eventpipe/pkg/eventpipe/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Success(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := dispatch.NewHTTPClient(time.Second, dispatch.WithUserAgent("test-agent"))
	err := c.Submit(context.Background(), dispatch.Endpoint{
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "k"},
	}, []byte(`[{"name":"a"}]`))
	require.NoError(t, err)

	assert.Equal(t, `[{"name":"a"}]`, string(gotBody))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "test-agent", gotHeader.Get("User-Agent"))
	assert.Equal(t, "k", gotHeader.Get("X-Api-Key"))
}

func TestHTTPClient_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		retryable bool
		message   string
	}{
		{http.StatusServiceUnavailable, "", true, "Service Unavailable"},
		{http.StatusTooManyRequests, "slow down\n", true, "slow down"},
		{http.StatusBadRequest, "bad payload", false, "bad payload"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			err := dispatch.NewHTTPClient(time.Second).Submit(context.Background(), dispatch.Endpoint{URL: srv.URL}, []byte("[]"))
			var httpErr *eperrors.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.message, httpErr.Message)
			assert.Equal(t, srv.URL, httpErr.Endpoint)
			assert.Equal(t, tt.retryable, eperrors.IsRetryable(err))
		})
	}
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := dispatch.NewHTTPClient(time.Second).Submit(context.Background(), dispatch.Endpoint{URL: url}, []byte("[]"))
	var transportErr *eperrors.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, eperrors.IsRetryable(err))
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := dispatch.NewHTTPClient(50*time.Millisecond).Submit(context.Background(), dispatch.Endpoint{URL: srv.URL}, []byte("[]"))
	var transportErr *eperrors.TransportError
	require.ErrorAs(t, err, &transportErr)
	var timeoutErr *eperrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Duration)
	assert.True(t, eperrors.IsRetryable(err))
}

func TestHTTPClient_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := dispatch.NewHTTPClient(time.Second).Submit(ctx, dispatch.Endpoint{URL: srv.URL}, []byte("[]"))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, eperrors.IsRetryable(err))
}

func TestHTTPClient_InvalidURL(t *testing.T) {
	err := dispatch.NewHTTPClient(time.Second).Submit(context.Background(), dispatch.Endpoint{URL: "://bad"}, nil)
	require.Error(t, err)
	assert.False(t, eperrors.IsRetryable(err))
}
