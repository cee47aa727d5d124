package port

import "context"

// ResponseFormat selects how the completion model shapes its reply.
type ResponseFormat string

const (
	ResponseText       ResponseFormat = "text"
	ResponseJSONObject ResponseFormat = "json_object"
)

// CompletionRequest is a single two-message chat completion.
type CompletionRequest struct {
	Model          string
	SystemMessage  string
	UserMessage    string
	Temperature    float32
	ResponseFormat ResponseFormat
}

// CompletionService generates text from a system directive and a user message.
type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
