package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestOpenAIProviderChat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "deepseek-chat" {
			t.Errorf("model = %q, want deepseek-chat", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": "deepseek-chat",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "你好呀。"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "ds", Type: "deepseek", Endpoint: srv.URL, APIKey: "k"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleUser, Content: "hi"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "你好呀。" || resp.FinishReason != "stop" || resp.Usage.TotalTokens != 5 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestOpenAIProviderChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{Endpoint: srv.URL}, zap.NewNop())
	if _, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestAnthropicProviderChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("missing version header")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System != "persona" || len(req.Messages) != 1 || req.MaxTokens != 1024 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"id":"msg_1","model":"claude","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there."}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{ID: "claude", Endpoint: srv.URL}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "hello"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hi there." || resp.Usage.TotalTokens != 6 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestAnthropicProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{Endpoint: srv.URL}, zap.NewNop())
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestMockResponse(t *testing.T) {
	cases := map[string]string{
		"我今天好开心":          "听到你这么开心，我也感到很高兴！有什么我可以帮你的吗？",
		"I am so SAD":     "我理解你的感受。有时候倾诉一下会好很多，你想聊聊吗？",
		"你好":              "你好！很高兴见到你。今天过得怎么样？",
		"Bye now":         "再见！希望下次还能和你聊天。",
		"the weather is…": MockReply,
	}
	for in, want := range cases {
		if got := MockResponse(in); got != want {
			t.Errorf("MockResponse(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMockProviderUsesLastUserMessage(t *testing.T) {
	p := NewMockProvider(ProviderConfig{ID: "mock"})
	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "谢谢"},
		{Role: RoleAssistant, Content: "..."},
		{Role: RoleUser, Content: "我好累"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "辛苦了！休息一下很重要，有什么我可以帮你的吗？" {
		t.Errorf("got %q", resp.Content)
	}
}

type stubProvider struct {
	id    string
	err   error
	calls int
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(context.Context, *ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: s.id}, nil
}
func (s *stubProvider) HealthCheck(context.Context) error { return s.err }

func TestRouterFallback(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &stubProvider{id: "primary", err: errors.New("down")}
	backup := &stubProvider{id: "backup"}
	r.Register(primary)
	r.Register(backup)
	r.SetFallbacks([]string{"missing", "backup", "primary"})

	resp, err := r.Route(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "backup" {
		t.Errorf("routed to %q, want backup", resp.Content)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1", primary.calls)
	}
}

func TestRouterAllFail(t *testing.T) {
	r := NewRouter(zap.NewNop())
	cause := errors.New("boom")
	r.Register(&stubProvider{id: "only", err: cause})

	_, err := r.Route(context.Background(), &ChatRequest{})
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}
}

func TestRouterEmpty(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Route(context.Background(), &ChatRequest{}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestRouterRateLimitFallsBack(t *testing.T) {
	r := NewRouter(zap.NewNop())
	limited := &stubProvider{id: "limited"}
	backup := &stubProvider{id: "backup"}
	r.Register(limited)
	r.Register(backup)
	r.SetFallbacks([]string{"backup"})
	r.SetRateLimit("limited", 1, 1)

	first, err := r.Route(context.Background(), &ChatRequest{})
	if err != nil || first.Content != "limited" {
		t.Fatalf("first route = %+v, %v", first, err)
	}
	second, err := r.Route(context.Background(), &ChatRequest{})
	if err != nil || second.Content != "backup" {
		t.Fatalf("second route = %+v, %v; want backup after limiter denial", second, err)
	}
	if limited.calls != 1 {
		t.Errorf("limited provider called %d times, want 1", limited.calls)
	}
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	p, err := reg.Build(ProviderConfig{Type: "mock"}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID() != "mock" || p.Name() != "mock" {
		t.Errorf("defaults not applied: id=%q name=%q", p.ID(), p.Name())
	}
	for _, typ := range []string{"openai", "deepseek", "ollama", "anthropic"} {
		if _, err := reg.Build(ProviderConfig{Type: typ}, zap.NewNop()); err != nil {
			t.Errorf("Build(%s): %v", typ, err)
		}
	}
	if _, err := reg.Build(ProviderConfig{Type: "gemini"}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown type")
	}
}
