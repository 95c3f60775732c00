package reasoning

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/psworks/scriptflow/tool"
)

// LangChainClient implements Client on top of any langchaingo llms.Model,
// so local or alternative providers can drive the workflow.
type LangChainClient struct {
	model llms.Model
	tools []llms.Tool
}

// NewLangChainClient creates a reasoning client backed by the given model
func NewLangChainClient(model llms.Model, descriptors []tool.Descriptor) *LangChainClient {
	tools := make([]llms.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"input": map[string]any{
							"type":        "string",
							"description": "Optional input for the tool",
						},
					},
					"additionalProperties": false,
				},
			},
		})
	}

	return &LangChainClient{model: model, tools: tools}
}

func toContentMessages(system string, messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))

	for _, m := range messages {
		switch m.Role {
		case RoleHuman:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case RoleAssistant:
			msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				msg.Parts = append(msg.Parts, llms.TextPart(m.Content))
			}
			for _, tc := range m.ToolCalls {
				msg.Parts = append(msg.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Input,
					},
				})
			}
			out = append(out, msg)
		case RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: m.ID,
						Name:       m.Name,
						Content:    m.Content,
					},
				},
			})
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		}
	}

	return out
}

// Decide asks the model what to do next, offering the registered tools
func (c *LangChainClient) Decide(ctx context.Context, req *Request) (*Decision, error) {
	resp, err := c.model.GenerateContent(ctx,
		toContentMessages(systemPrompt(req.Completed), req.Messages),
		llms.WithTools(c.tools),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyDecision
	}

	choice := resp.Choices[0]
	decision := &Decision{FinalText: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		decision.ToolCalls = append(decision.ToolCalls, ToolRequest{
			ID:    tc.ID,
			Name:  tc.FunctionCall.Name,
			Input: tc.FunctionCall.Arguments,
		})
	}

	if len(decision.ToolCalls) == 0 && decision.FinalText == "" {
		return nil, ErrEmptyDecision
	}
	return decision, nil
}

// Synthesize asks the model for the final summary, without tools
func (c *LangChainClient) Synthesize(ctx context.Context, req *Request) (string, error) {
	messages := toContentMessages(analyzeSystemPrompt, req.Messages)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, synthesisPrompt))

	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(0.3))
	if err != nil {
		return "", fmt.Errorf("generate content failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyDecision
	}

	return resp.Choices[0].Content, nil
}
