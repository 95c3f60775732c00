// Package reasoning defines the narrow interface between the workflow
// controller and a language model, plus two implementations: one on the
// OpenAI chat completion API (sashabaranov/go-openai) and one adapting any
// langchaingo llms.Model.
//
// A Client owns its prompts and wire conversion. The controller only ever
// sees Decisions: either the tool calls to run next or the final text.
package reasoning
