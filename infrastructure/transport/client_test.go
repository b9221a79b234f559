package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rollouts/internal/application"
	"github.com/ahrav/go-rollouts/internal/domain"
)

// staticResolver maps (category, name) pairs to fixed base URLs.
type staticResolver struct {
	entries map[string]string
}

func (r *staticResolver) Resolve(category, name string) (string, error) {
	url, ok := r.entries[category+"/"+name]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", domain.ErrServiceNotDeclared, category, name)
	}
	return url, nil
}

func resolverFor(category, name, url string) *staticResolver {
	return &staticResolver{entries: map[string]string{category + "/" + name: url}}
}

func TestClientPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["prompt"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"resp_1"}`)
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryModel, "m1", srv.URL), ClientConfig{})

	var out struct {
		ID string `json:"id"`
	}
	err := client.PostJSON(context.Background(), application.CategoryModel, "m1", "/v1/responses",
		map[string]any{"prompt": "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "resp_1", out.ID)
}

func TestClientGetJSONNilOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryModel, "m1", srv.URL), ClientConfig{})
	err := client.GetJSON(context.Background(), application.CategoryModel, "m1", "/health", nil)
	require.NoError(t, err)
}

func TestClientNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown tool"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryResource, "r1", srv.URL), ClientConfig{})
	err := client.PostJSON(context.Background(), application.CategoryResource, "r1", "/tools/nope",
		map[string]any{}, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Contains(t, httpErr.Body, "unknown tool")
}

func TestClientResolverErrorPropagates(t *testing.T) {
	client := NewClient(&staticResolver{entries: map[string]string{}}, ClientConfig{})

	err := client.GetJSON(context.Background(), application.CategoryModel, "ghost", "/health", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrServiceNotDeclared)
}

func TestClientContextCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryModel, "m1", srv.URL), ClientConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	err := client.GetJSON(ctx, application.CategoryModel, "m1", "/health", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"http://127.0.0.1:8000", "/health", "http://127.0.0.1:8000/health"},
		{"http://127.0.0.1:8000/", "/health", "http://127.0.0.1:8000/health"},
		{"http://127.0.0.1:8000", "health", "http://127.0.0.1:8000/health"},
		{"http://127.0.0.1:8000/", "", "http://127.0.0.1:8000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinURL(tt.base, tt.path))
	}
}

func TestModelServiceClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/responses", r.URL.Path)

		var req domain.ResponsesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 1)

		resp := domain.ResponsesResponse{
			ID:     "resp_1",
			Output: []domain.Item{domain.NewAssistantMessage("hi")},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryModel, "m1", srv.URL), ClientConfig{})
	model := NewModelServiceClient(client, "m1")

	resp, err := model.Responses(context.Background(), domain.ResponsesRequest{
		Input: []domain.Item{domain.NewUserMessage("hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "resp_1", resp.ID)
	assert.Equal(t, "hi", resp.FinalText())
}

func TestResourceServiceClientCallTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tools/add", r.URL.Path)
		fmt.Fprint(w, `{"result":4}`)
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryResource, "r1", srv.URL), ClientConfig{})
	resource := NewResourceServiceClient(client, "r1")

	out, err := resource.CallTool(context.Background(), "add", json.RawMessage(`{"a":2,"b":2}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":4}`, string(out))
}

func TestResourceServiceClientEmptyArgs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Empty(t, body)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryResource, "r1", srv.URL), ClientConfig{})
	resource := NewResourceServiceClient(client, "r1")

	_, err := resource.CallTool(context.Background(), "noargs", nil)
	require.NoError(t, err)
}

func TestResourceServiceClientListTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tools", r.URL.Path)
		specs := []domain.ToolSpec{
			{Type: "function", Name: "add"},
			{Type: "function", Name: "divide"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(specs))
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryResource, "r1", srv.URL), ClientConfig{})
	resource := NewResourceServiceClient(client, "r1")

	specs, err := resource.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "add", specs[0].Name)
}

func TestResourceServiceClientVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)

		var req domain.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		fmt.Fprint(w, `{"responses_create_params":{},"completed_interaction":[],"reward":0.5,"similarity":0.83}`)
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryResource, "r1", srv.URL), ClientConfig{})
	resource := NewResourceServiceClient(client, "r1")

	resp, err := resource.Verify(context.Background(), domain.VerifyRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, resp.Reward)
	assert.Equal(t, 0.83, resp.Extra["similarity"])
}

func TestWaitHealthy(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryModel, "m1", srv.URL), ClientConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, WaitHealthy(ctx, client, application.CategoryModel, "m1"))
	assert.GreaterOrEqual(t, calls, 3)
}

func TestWaitHealthyUndeclaredFailsFast(t *testing.T) {
	client := NewClient(&staticResolver{entries: map[string]string{}}, ClientConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	err := WaitHealthy(ctx, client, application.CategoryModel, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrServiceNotDeclared)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitHealthyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "never ready", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(resolverFor(application.CategoryModel, "m1", srv.URL), ClientConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()

	err := WaitHealthy(ctx, client, application.CategoryModel, "m1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "never ready")
}

func TestClientConfigSharesDefaultTransport(t *testing.T) {
	assert.Same(t, sharedTransport, ClientConfig{}.transport())
	assert.Same(t, sharedTransport, ClientConfig{Timeout: time.Second}.transport())
}

func TestClientConfigConnectionCaps(t *testing.T) {
	tr := ClientConfig{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		MaxConnsPerHost:     16,
	}.transport()

	assert.NotSame(t, sharedTransport, tr)
	assert.Equal(t, 32, tr.MaxIdleConns)
	assert.Equal(t, 8, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 16, tr.MaxConnsPerHost)
}

func TestClientConfigPartialCapsKeepDefaults(t *testing.T) {
	tr := ClientConfig{MaxConnsPerHost: 16}.transport()

	assert.NotSame(t, sharedTransport, tr)
	assert.Equal(t, 16, tr.MaxConnsPerHost)
	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
}
