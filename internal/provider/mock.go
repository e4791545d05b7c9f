package provider

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// MockReply is the answer when no keyword matches.
const MockReply = "我听到了。能多告诉我一些吗？"

var mockReplies = []struct {
	keywords []string
	reply    string
}{
	{[]string{"开心", "happy"}, "听到你这么开心，我也感到很高兴！有什么我可以帮你的吗？"},
	{[]string{"伤心", "sad"}, "我理解你的感受。有时候倾诉一下会好很多，你想聊聊吗？"},
	{[]string{"生气", "angry"}, "我能感觉到你的愤怒。深呼吸，我们一起冷静一下。"},
	{[]string{"害怕", "scared"}, "不要害怕，我在这里陪着你。告诉我发生了什么？"},
	{[]string{"累", "tired"}, "辛苦了！休息一下很重要，有什么我可以帮你的吗？"},
	{[]string{"谢谢", "thank"}, "不客气！能帮到你我很开心。"},
	{[]string{"你好", "hello"}, "你好！很高兴见到你。今天过得怎么样？"},
	{[]string{"再见", "bye"}, "再见！希望下次还能和你聊天。"},
}

// MockProvider answers from a keyword table. It needs no network and is the
// default for offline runs.
type MockProvider struct {
	config ProviderConfig
}

func NewMockProvider(cfg ProviderConfig) *MockProvider {
	if cfg.Model == "" {
		cfg.Model = "mock-model"
	}
	return &MockProvider{config: cfg}
}

func (p *MockProvider) ID() string   { return p.config.ID }
func (p *MockProvider) Name() string { return p.config.Name }

func (p *MockProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := req.LastUser()
	out := MockResponse(in)
	prompt, completion := len(strings.Fields(in)), len(strings.Fields(out))
	return &ChatResponse{
		ID:           uuid.NewString(),
		Model:        p.config.Model,
		Content:      out,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

func (p *MockProvider) HealthCheck(context.Context) error { return nil }

// MockResponse picks the canned reply for the first matching keyword group.
func MockResponse(userMessage string) string {
	lower := strings.ToLower(userMessage)
	for _, m := range mockReplies {
		for _, k := range m.keywords {
			if strings.Contains(lower, k) {
				return m.reply
			}
		}
	}
	return MockReply
}
