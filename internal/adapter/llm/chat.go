package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"notesrag/internal/port"
)

// Chat implements port.CompletionService on the chat completions endpoint.
type Chat struct {
	client *openai.Client
}

func NewChat(client *openai.Client) *Chat {
	return &Chat{client: client}
}

func (c *Chat) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemMessage},
			{Role: openai.ChatMessageRoleUser, Content: req.UserMessage},
		},
		Temperature: req.Temperature,
	}
	if req.ResponseFormat == port.ResponseJSONObject {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
