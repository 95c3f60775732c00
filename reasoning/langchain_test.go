package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel is a scripted llms.Model
type fakeModel struct {
	response *llms.ContentResponse
	gotMsgs  []llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.gotMsgs = messages
	return f.response, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", nil
}

func TestLangChainClient_Decide_ToolCalls(t *testing.T) {
	model := &fakeModel{response: &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			ToolCalls: []llms.ToolCall{
				{
					ID:   "call_1",
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      "quality_analysis",
						Arguments: "{}",
					},
				},
			},
		}},
	}}

	client := NewLangChainClient(model, testDescriptors)
	decision, err := client.Decide(context.Background(), &Request{
		Messages: []Message{{ID: "m1", Role: RoleHuman, Content: "analyze"}},
	})
	require.NoError(t, err)

	require.Len(t, decision.ToolCalls, 1)
	assert.Equal(t, "call_1", decision.ToolCalls[0].ID)
	assert.Equal(t, "quality_analysis", decision.ToolCalls[0].Name)

	// System prompt leads the converted history.
	require.NotEmpty(t, model.gotMsgs)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.gotMsgs[0].Role)
}

func TestLangChainClient_Decide_Empty(t *testing.T) {
	model := &fakeModel{response: &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: ""}},
	}}

	client := NewLangChainClient(model, testDescriptors)
	_, err := client.Decide(context.Background(), &Request{
		Messages: []Message{{ID: "m1", Role: RoleHuman, Content: "analyze"}},
	})
	assert.ErrorIs(t, err, ErrEmptyDecision)
}

func TestLangChainClient_Synthesize(t *testing.T) {
	model := &fakeModel{response: &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "## Summary\nLooks fine."}},
	}}

	client := NewLangChainClient(model, testDescriptors)
	text, err := client.Synthesize(context.Background(), &Request{
		Messages: []Message{
			{ID: "m1", Role: RoleHuman, Content: "analyze"},
			{ID: "call_1", Role: RoleTool, Name: "security_scan", Content: `{"risk_level":"LOW"}`},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, text, "Looks fine.")

	// The summary instruction is appended as the last human message.
	last := model.gotMsgs[len(model.gotMsgs)-1]
	assert.Equal(t, llms.ChatMessageTypeHuman, last.Role)
}

func TestToContentMessages(t *testing.T) {
	messages := []Message{
		{ID: "m1", Role: RoleHuman, Content: "analyze"},
		{ID: "m2", Role: RoleAssistant, Content: "checking", ToolCalls: []ToolRequest{
			{ID: "call_1", Name: "security_scan", Input: "{}"},
		}},
		{ID: "call_1", Role: RoleTool, Name: "security_scan", Content: `{}`},
	}

	out := toContentMessages("system", messages)
	require.Len(t, out, 4)

	ai := out[2]
	assert.Equal(t, llms.ChatMessageTypeAI, ai.Role)
	require.Len(t, ai.Parts, 2)
	tc, ok := ai.Parts[1].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "call_1", tc.ID)

	toolMsg := out[3]
	assert.Equal(t, llms.ChatMessageTypeTool, toolMsg.Role)
	resp, ok := toolMsg.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_1", resp.ToolCallID)
}
