package reasoning

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/psworks/scriptflow/tool"
)

const (
	defaultModel         = "gpt-5-mini"
	synthesisTemperature = 0.3
)

const analyzeSystemPrompt = `You are an expert PowerShell script analyzer. Your job is to:

1. Analyze PowerShell scripts for their purpose and functionality
2. Identify security vulnerabilities and risks
3. Assess code quality and best practices
4. Generate optimization recommendations

Always use the available tools to perform thorough analysis. Work step by step:
- First, analyze the script purpose and structure
- Then, perform security scanning
- Next, analyze code quality
- Finally, generate optimization recommendations

Provide clear, actionable insights.`

const synthesisPrompt = `Based on all the analysis performed, provide a comprehensive summary that includes:

1. **Script Purpose**: What the script does
2. **Security Assessment**: Risk level and key findings
3. **Quality Evaluation**: Code quality score and main issues
4. **Optimization Opportunities**: Top recommendations for improvement

Format your response in clear sections with actionable insights.`

// OpenAIClient implements Client on the OpenAI chat completion API
type OpenAIClient struct {
	client *openai.Client
	tools  []openai.Tool
}

// NewOpenAIClient creates a reasoning client with the given API key. The
// descriptors become the function tools offered to the model on every
// Decide call.
func NewOpenAIClient(apiKey string, descriptors []tool.Descriptor) *OpenAIClient {
	return NewOpenAIClientWithConfig(openai.DefaultConfig(apiKey), descriptors)
}

// NewOpenAIClientWithConfig creates a reasoning client from a full client
// config, e.g. to point at a proxy or a test server
func NewOpenAIClientWithConfig(config openai.ClientConfig, descriptors []tool.Descriptor) *OpenAIClient {
	tools := make([]openai.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
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

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		tools:  tools,
	}
}

func modelFromParams(params map[string]any) string {
	if m, ok := params["model"].(string); ok && m != "" {
		return m
	}
	return defaultModel
}

// Reasoning-class models fix temperature, top_p and n server-side, and
// go-openai rejects requests that set them before anything hits the wire.
func acceptsSamplingParams(model string) bool {
	for _, family := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, family) {
			return false
		}
	}
	return true
}

func systemPrompt(completed []string) string {
	if len(completed) == 0 {
		return analyzeSystemPrompt
	}
	return analyzeSystemPrompt + "\n\nAlready completed analyses: " + strings.Join(completed, ", ") + "."
}

func toChatMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})

	for _, m := range messages {
		switch m.Role {
		case RoleHuman:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Input,
					},
				})
			}
			out = append(out, msg)
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				Name:       m.Name,
				ToolCallID: m.ID,
			})
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			})
		}
	}

	return out
}

// Decide asks the model what to do next, offering the registered tools
func (c *OpenAIClient) Decide(ctx context.Context, req *Request) (*Decision, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    modelFromParams(req.Params),
		Messages: toChatMessages(systemPrompt(req.Completed), req.Messages),
		Tools:    c.tools,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyDecision
	}

	choice := resp.Choices[0].Message
	decision := &Decision{FinalText: choice.Content}
	for _, tc := range choice.ToolCalls {
		decision.ToolCalls = append(decision.ToolCalls, ToolRequest{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}

	if len(decision.ToolCalls) == 0 && decision.FinalText == "" {
		return nil, ErrEmptyDecision
	}
	return decision, nil
}

// Synthesize asks the model for the final summary, without tools
func (c *OpenAIClient) Synthesize(ctx context.Context, req *Request) (string, error) {
	messages := toChatMessages(analyzeSystemPrompt, req.Messages)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: synthesisPrompt,
	})

	model := modelFromParams(req.Params)
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if acceptsSamplingParams(model) {
		chatReq.Temperature = synthesisTemperature
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyDecision
	}

	return resp.Choices[0].Message.Content, nil
}
