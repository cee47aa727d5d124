package usecase

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"notesrag/internal/domain"
	"notesrag/internal/logging"
	"notesrag/internal/port"
	"notesrag/internal/prompt"
	"notesrag/internal/telemetry"
)

// AnswerOptions configures how answers are composed.
type AnswerOptions struct {
	Model          string
	Temperature    float32
	ResponseFormat port.ResponseFormat
	TopK           int
	Threshold      float64
	Separator      string
	ContextBudget  int // characters, 0 = unlimited
	Retry          RetryPolicy
}

// AnswerUseCase answers questions from retrieved notes.
type AnswerUseCase struct {
	retriever  *RetrieveUseCase
	completion port.CompletionService
	opts       AnswerOptions
	retry      retrier
	logger     *zap.Logger
	metrics    *telemetry.Metrics
}

// NewAnswerUseCase creates a new answer use case.
func NewAnswerUseCase(
	retriever *RetrieveUseCase,
	completion port.CompletionService,
	opts AnswerOptions,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) (*AnswerUseCase, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, domain.ConfigError("completion model is required")
	}
	switch opts.ResponseFormat {
	case "":
		opts.ResponseFormat = port.ResponseText
	case port.ResponseText, port.ResponseJSONObject:
	default:
		return nil, domain.ConfigError("unknown response format %q", opts.ResponseFormat)
	}
	if opts.ContextBudget < 0 {
		return nil, domain.ConfigError("context budget must not be negative")
	}
	logger = logging.OrNop(logger)
	return &AnswerUseCase{
		retriever:  retriever,
		completion: completion,
		opts:       opts,
		retry:      retrier{policy: opts.Retry, logger: logger, metrics: metrics},
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Answer retrieves context for the question and asks the completion model
// once. With no matching notes the model is told to answer from general
// knowledge and no context block is sent.
func (u *AnswerUseCase) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.ConfigError("question must not be empty")
	}

	matches, err := u.retriever.Retrieve(ctx, question, u.opts.TopK, u.opts.Threshold)
	if err != nil {
		return nil, err
	}

	contextUsed := packContext(matches, u.opts.Separator, u.opts.ContextBudget)
	msgs, err := prompt.Build(strings.Join(contextUsed, u.opts.Separator), question, u.opts.ResponseFormat == port.ResponseJSONObject)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	answer, err := withRetry(ctx, u.retry, domain.StageComplete, func(ctx context.Context) (string, error) {
		return u.completion.Complete(ctx, port.CompletionRequest{
			Model:          u.opts.Model,
			SystemMessage:  msgs.System,
			UserMessage:    msgs.User,
			Temperature:    u.opts.Temperature,
			ResponseFormat: u.opts.ResponseFormat,
		})
	})
	u.metrics.ObserveStage(string(domain.StageComplete), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(answer) == "" {
		return nil, &domain.StageError{Stage: domain.StageComplete, Cause: domain.ErrEmptyAnswer}
	}

	u.logger.Debug("answered",
		zap.Int("matches", len(matches)),
		zap.Int("context_used", len(contextUsed)),
		zap.Bool("grounded", len(contextUsed) > 0))

	if contextUsed == nil {
		contextUsed = []string{}
	}
	return &domain.AnswerResult{
		ContextUsed: contextUsed,
		AnswerText:  answer,
		Matches:     matches,
	}, nil
}

// packContext keeps matches in rank order while the joined block fits the
// character budget. Matches that would overflow are skipped.
func packContext(matches []domain.RetrievalMatch, separator string, budget int) []string {
	var selected []string
	used := 0
	sepLen := utf8.RuneCountInString(separator)

	for _, m := range matches {
		cost := utf8.RuneCountInString(m.Content)
		if len(selected) > 0 {
			cost += sepLen
		}
		if budget > 0 && used+cost > budget {
			continue // Skip if it would exceed budget
		}
		selected = append(selected, m.Content)
		used += cost
	}
	return selected
}
