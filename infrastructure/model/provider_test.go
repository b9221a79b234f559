package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-rollouts/internal/domain"
)

func registerStubProvider(t *testing.T, name string, core CoreModel) {
	t.Helper()
	RegisterProviderFactory(name, func(Config) (CoreModel, error) {
		return core, nil
	})
	t.Cleanup(func() { delete(providerFactories, name) })
}

func TestNewCoreModelRequiresAPIKey(t *testing.T) {
	_, err := NewCoreModel("openai", Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestNewCoreModelUnknownProvider(t *testing.T) {
	_, err := NewCoreModel("nonexistent", Config{APIKey: "key"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestNewCoreModelBuiltinProvidersRegistered(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic", "google"} {
		_, ok := providerFactories[provider]
		assert.True(t, ok, provider)
	}
}

func TestNewCoreModelMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next CoreModel) CoreModel {
			return &taggedModel{next: next, name: name, order: &order}
		}
	}

	stub := &stubCore{model: "m", resp: &domain.ResponsesResponse{ID: "r"}}
	registerStubProvider(t, "stub", stub)

	core, err := NewCoreModel("stub", Config{
		APIKey:     "key",
		Middleware: []Middleware{tag("outer"), tag("inner")},
	})
	require.NoError(t, err)

	_, err = core.Generate(context.Background(), &domain.ResponsesRequest{})
	require.NoError(t, err)

	// The first configured middleware is the outermost wrapper.
	assert.Equal(t, []string{"outer", "inner"}, order)
}

type taggedModel struct {
	next  CoreModel
	name  string
	order *[]string
}

func (m *taggedModel) Generate(ctx context.Context, req *domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	*m.order = append(*m.order, m.name)
	return m.next.Generate(ctx, req)
}

func (m *taggedModel) Model() string { return m.next.Model() }

func TestTimeoutMiddleware(t *testing.T) {
	slow := &blockingCore{}
	core := TimeoutMiddleware(50 * time.Millisecond)(slow)

	start := time.Now()
	_, err := core.Generate(context.Background(), &domain.ResponsesRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

type blockingCore struct{}

func (b *blockingCore) Generate(ctx context.Context, _ *domain.ResponsesRequest) (*domain.ResponsesResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingCore) Model() string { return "blocking" }

func TestRateLimitMiddlewarePacesCalls(t *testing.T) {
	stub := &stubCore{model: "m", resp: &domain.ResponsesResponse{ID: "r"}}
	core := RateLimitMiddleware(rate.Limit(20), 1)(stub)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := core.Generate(context.Background(), &domain.ResponsesRequest{})
		require.NoError(t, err)
	}

	// Burst of 1 at 20 rps means the second and third calls each wait
	// roughly 50ms for a token.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, stub.calls)
}

func TestRateLimitMiddlewareHonorsCancellation(t *testing.T) {
	stub := &stubCore{model: "m", resp: &domain.ResponsesResponse{ID: "r"}}
	core := RateLimitMiddleware(rate.Limit(0.001), 1)(stub)

	// First call consumes the only token.
	_, err := core.Generate(context.Background(), &domain.ResponsesRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = core.Generate(ctx, &domain.ResponsesRequest{})
	require.Error(t, err)
}

func TestBuildCoreModelInvalidTimeout(t *testing.T) {
	_, err := BuildCoreModel("m1", ServiceSettings{
		Provider: "openai",
		APIKey:   "key",
		Timeout:  "ninety seconds",
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timeout")
}

func TestBuildCoreModelAssemblesChain(t *testing.T) {
	stub := &stubCore{model: "stub-model", resp: &domain.ResponsesResponse{ID: "r"}}
	registerStubProvider(t, "stub", stub)

	core, err := BuildCoreModel("m1", ServiceSettings{
		Provider:  "stub",
		APIKey:    "key",
		Timeout:   "30s",
		RateLimit: 100,
	}, nil)
	require.NoError(t, err)

	resp, err := core.Generate(context.Background(), &domain.ResponsesRequest{})
	require.NoError(t, err)
	assert.Equal(t, "r", resp.ID)
	assert.Equal(t, "stub-model", core.Model())
}
