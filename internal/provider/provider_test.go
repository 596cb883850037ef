package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtdbot/internal/config"
	"gtdbot/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name     string
	healthy  bool
	chatErr  error
	chatResp *domain.ChatResponse
	calls    int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Failover ---

func newTestFailover(ps ...domain.Provider) *FailoverProvider {
	return NewFailover(FailoverConfig{Providers: ps, Logger: testLogger()})
}

func TestFailoverProvider_BenchesFailedProvider(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	p1 := &mockProvider{name: "primary", chatErr: errors.New("timeout")}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "ok"}}
	fp := NewFailover(FailoverConfig{
		Providers: []domain.Provider{p1, p2},
		Cooldown:  time.Minute,
		Now:       func() time.Time { return now },
		Logger:    testLogger(),
	})
	ctx := context.Background()

	_, err := fp.Chat(ctx, domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, p1.calls)

	_, err = fp.Chat(ctx, domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, p1.calls, "benched provider is not asked first")
	assert.Equal(t, 2, p2.calls)

	now = now.Add(2 * time.Minute)
	p1.chatErr = nil
	p1.chatResp = &domain.ChatResponse{Content: "back"}
	resp, err := fp.Chat(ctx, domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "back", resp.Content)
}

func TestFailoverProvider_BenchedStillTriedLast(t *testing.T) {
	p1 := &mockProvider{name: "a", chatErr: errors.New("down")}
	p2 := &mockProvider{name: "b", chatErr: errors.New("down too")}
	fp := newTestFailover(p1, p2)

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	p2.chatErr = nil
	p2.chatResp = &domain.ChatResponse{Content: "b again"}

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "b again", resp.Content)
}

func TestFailoverProvider_HealthyReportsEach(t *testing.T) {
	fp := newTestFailover(&mockProvider{name: "a"}, &mockProvider{name: "b"})
	err := fp.Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: unhealthy")
	assert.Contains(t, err.Error(), "b: unhealthy")

	assert.NoError(t, newTestFailover(&mockProvider{name: "a"}, &mockProvider{name: "b", healthy: true}).Healthy(context.Background()))
}

func TestFailoverProvider_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := newTestFailover(p1, p2)

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from-primary", resp.Content)
	assert.Equal(t, 0, p2.calls)
}

func TestFailoverProvider_FallsBack(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatErr: errors.New("boom")}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := newTestFailover(p1, p2)

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from-secondary", resp.Content)
}

func TestFailoverProvider_AllFail(t *testing.T) {
	p1 := &mockProvider{name: "a", chatErr: errors.New("first")}
	p2 := &mockProvider{name: "b", chatErr: errors.New("second")}
	fp := newTestFailover(p1, p2)

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: first")
	assert.Contains(t, err.Error(), "b: second")
}

func TestFailoverProvider_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "a", chatErr: context.Canceled}
	p2 := &mockProvider{name: "b", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := newTestFailover(p1, p2)

	_, err := fp.Chat(ctx, domain.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 0, p2.calls)
}

func TestFailoverProvider_Name(t *testing.T) {
	fp := newTestFailover(&mockProvider{name: "a"}, &mockProvider{name: "b"})
	assert.Equal(t, "failover(a→b)", fp.Name())
}

// --- OpenAI over HTTP ---

func chatCompletionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func TestOpenAI_ChatRequestsJSONMode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletionBody(`{"intent":"greeting"}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL + "/v1", Model: "gpt-4o-mini", Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{System: "sys", User: "hola", JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"greeting"}`, resp.Content)

	format, ok := got["response_format"].(map[string]any)
	require.True(t, ok, "response_format missing: %v", got)
	assert.Equal(t, "json_object", format["type"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"error":{"message":"upstream"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletionBody("ok"))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL + "/v1", Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAI_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL + "/v1", Logger: testLogger()})
	_, err := p.Chat(context.Background(), domain.ChatRequest{User: "x"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

// --- Whisper ---

func TestWhisper_TranscribesAsPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "es", r.FormValue("language"))
		assert.Equal(t, "text", r.FormValue("response_format"))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		_, _ = io.WriteString(w, "  comprar pan mañana \n")
	}))
	defer srv.Close()

	w := NewWhisperProvider(WhisperConfig{APIBase: srv.URL + "/v1", Language: "es", Logger: testLogger()})
	text, err := w.Transcribe(context.Background(), []byte("OggS-fake"), "audio.ogg", "")
	require.NoError(t, err)
	assert.Equal(t, "comprar pan mañana", text)
}

func TestWhisper_EmptyAudio(t *testing.T) {
	w := NewWhisperProvider(WhisperConfig{Logger: testLogger()})
	_, err := w.Transcribe(context.Background(), nil, "", "es")
	require.Error(t, err)
}

// --- Limiter and HTTP client ---

func TestLimiter_BurstThenBlocks(t *testing.T) {
	l := newLimiter(1)
	for i := 0; i < limiterBurst; i++ {
		require.True(t, l.Allow(), "burst call %d", i)
	}
	assert.False(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestSharedHTTPClient_SetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	resp, err := SharedHTTPClient(time.Second).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, UserAgent, got)
}

// --- Factory ---

func TestFactory_BuildChain(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultProvider: "a",
		FailoverChain:   []string{"a", "b", "disabled"},
		TimeoutSeconds:  5,
		Providers: map[string]config.ProviderConfig{
			"a":        {Enabled: true, Model: "m"},
			"b":        {Enabled: true, Model: "m"},
			"disabled": {Enabled: false, Model: "m"},
		},
	}
	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor("a", func(name string, _ config.ProviderConfig, _ time.Duration, _ *slog.Logger) domain.Provider {
		return &mockProvider{name: name}
	})

	p, err := f.Build()
	require.NoError(t, err)
	assert.Equal(t, "failover(a→b)", p.Name())

	again, err := f.Get("a")
	require.NoError(t, err)
	assert.Same(t, again, mustGet(t, f, "a"))
}

func TestFactory_DefaultWithoutChain(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultProvider: "openai",
		Providers:       map[string]config.ProviderConfig{"openai": {Enabled: true, Model: "gpt-4o-mini"}},
	}
	p, err := NewFactory(cfg, testLogger()).Build()
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestFactory_UnknownProvider(t *testing.T) {
	_, err := NewFactory(config.LLMConfig{}, testLogger()).Get("ghost")
	require.Error(t, err)
}

func mustGet(t *testing.T, f *Factory, name string) domain.Provider {
	t.Helper()
	p, err := f.Get(name)
	require.NoError(t, err)
	return p
}
