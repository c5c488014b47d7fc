package request

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type frame struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

func TestGet_DecodeList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "s1", r.URL.Query().Get("sid"))
		_ = json.NewEncoder(w).Encode([]frame{{Type: "event", Event: "task:created"}, {Type: "ack"}})
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL + "/realtime"))
	frames, err := Decode[[]frame](client.Get("/poll").SetQuery("sid", "s1"))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "task:created", frames[0].Event)
}

func TestPost_JSON(t *testing.T) {
	type handshake struct {
		SID string `json:"sid"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/realtime/poll/handshake", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var f frame
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f))
		assert.Equal(t, "hello", f.Event)
		_ = json.NewEncoder(w).Encode(handshake{SID: "abc"})
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL))
	hs, err := Decode[handshake](client.Post("/realtime/poll/handshake").SetBearerToken("tok").SetBody(frame{Event: "hello"}))
	require.NoError(t, err)
	assert.Equal(t, "abc", hs.SID)
}

func TestDecode_ErrorOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte("session expired"))
	}))
	defer srv.Close()

	_, err := Decode[frame](New(WithBaseURL(srv.URL)).Get("/poll"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "410 Gone: session expired")
}

func TestResponse_ErrAndUnmarshal(t *testing.T) {
	ok := &Response{StatusCode: http.StatusNoContent}
	assert.NoError(t, ok.Err())

	var v map[string]any
	assert.ErrorIs(t, ok.Unmarshal(&v), ErrUnmarshal)

	long := &Response{StatusCode: http.StatusBadGateway, Body: []byte(strings.Repeat("x", 2*maxErrorBody))}
	err := long.Err()
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Less(t, len(err.Error()), maxErrorBody+100)
}

func TestInvalidURL(t *testing.T) {
	_, err := New().Get("not a url").Do()
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestSetBody_MarshalError(t *testing.T) {
	_, err := New(WithBaseURL("http://localhost")).Post("/x").SetBody(make(chan int)).Do()
	assert.ErrorIs(t, err, ErrMarshal)
}

func TestRetry(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var f frame
		_ = json.NewDecoder(r.Body).Decode(&f)
		assert.Equal(t, "replayed", f.Event, "body must be replayed on retry")
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(
		WithBaseURL(srv.URL),
		WithRetry(&RetryConfig{MaxAttempts: 3, InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}),
	)

	resp, err := client.Post("/poll").SetBody(frame{Event: "replayed"}).Do()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetry_NotOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL), WithRetry(DefaultRetryConfig()))
	resp, err := client.Get("/").Do()
	require.NoError(t, err)
	assert.True(t, resp.IsError())
	assert.Equal(t, int32(1), attempts.Load())
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL), WithTimeout(5*time.Second))
	_, err := client.Get("/slow").SetTimeout(30 * time.Millisecond).Do()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(WithBaseURL("http://127.0.0.1:1")).Get("/").SetContext(ctx).Do()
	require.Error(t, err)
}

func TestCircuitBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL), WithCircuitBreaker(gobreaker.Settings{
		Name:    "poll",
		Timeout: time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	}))

	for i := 0; i < 2; i++ {
		resp, err := client.Get("/").Do()
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}

	_, err := client.Get("/").Do()
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

type recordingInterceptor struct {
	before, after atomic.Int32
}

func (i *recordingInterceptor) BeforeRequest(context.Context, *http.Request) error {
	i.before.Add(1)
	return nil
}

func (i *recordingInterceptor) AfterResponse(context.Context, *Response) error {
	i.after.Add(1)
	return nil
}

func TestInterceptors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Authorization")))
	}))
	defer srv.Close()

	rec := &recordingInterceptor{}
	client := New(
		WithBaseURL(srv.URL),
		WithInterceptor(rec),
		WithInterceptor(NewAuthInterceptor(func(context.Context) string { return "from-source" })),
	)

	resp, err := client.Get("/").Do()
	require.NoError(t, err)
	assert.Equal(t, "Bearer from-source", resp.String())

	resp, err = client.Get("/").SetBearerToken("explicit").Do()
	require.NoError(t, err)
	assert.Equal(t, "Bearer explicit", resp.String())

	assert.Equal(t, int32(2), rec.before.Load())
	assert.Equal(t, int32(2), rec.after.Load())
}

func TestRetry_ServiceUnavailableNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL), WithRetry(&RetryConfig{InitialDelay: time.Millisecond}))
	resp, err := client.Get("/poll").Do()
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetryConfig_BackOffBounded(t *testing.T) {
	rc := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}
	rc.normalize()
	b := rc.newBackOff()
	for i := 0; i < 10; i++ {
		d := b.NextBackOff()
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 50*time.Millisecond, "jitter stays within 25%% of MaxDelay")
	}
}

func TestTracing_PropagatesTraceparent(t *testing.T) {
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("traceparent"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL), WithTracing(true)).Get("/poll").Do()
	require.NoError(t, err)
	assert.NotEmpty(t, got.Load())

	_, err = New(WithBaseURL(srv.URL), WithTracing(false)).Get("/poll").Do()
	require.NoError(t, err)
	assert.Empty(t, got.Load())
}

func TestSetHeaders_AndBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"a", "b"}, r.Header.Values("X-Trace"))
		assert.Equal(t, "client", r.Header.Get("X-Default"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(strings.Repeat("f", 64)))
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL), WithHeader("X-Default", "client"), WithMaxResponseBytes(32))
	_, err := client.Get("/poll").
		SetHeaders(http.Header{"X-Trace": {"a", "b"}}).
		SetBearerToken("").
		Do()
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "exceeds 32 bytes")
}
