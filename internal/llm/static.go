package llm

import "context"

// staticResponse is returned by the mock provider for every analysis
// request. The advisor treats it as a neutral wait signal.
const staticResponse = `{"trend":"震荡","action":"观望","confidence":0.5,"reason":"未配置AI接口，返回默认观望建议"}`

// Static is a chat client that always returns the same canned reply.
// It backs the mock provider so the daemon runs end to end without an
// AI key, useful in observe mode and in tests.
type Static struct {
	response string
}

// NewStatic creates a static client. An empty response uses the
// built-in neutral advice.
func NewStatic(response string) *Static {
	if response == "" {
		response = staticResponse
	}
	return &Static{response: response}
}

// CompleteText returns the canned response.
func (s *Static) CompleteText(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.response, nil
}

// Model identifies the mock provider.
func (s *Static) Model() string { return "mock" }
