package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"notesrag/internal/adapter/llm"
	"notesrag/internal/domain"
	"notesrag/internal/port"
	"notesrag/internal/usecase"
)

var (
	askQuestion    string
	askJSON        bool
	askShowContext bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from your notes",
	Long: `Retrieve the notes most similar to a question and ask the completion
model to answer from them. Without -q, questions are read one per line
from standard input until EOF.

Examples:
  notesrag ask -q "how often do I feed the starter?"
  notesrag ask --show-context -q "what tyre pressure do I run?"
  notesrag ask                      # interactive`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "question to answer")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.Flags().BoolVar(&askShowContext, "show-context", false, "print the note chunks sent to the model")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := GetConfig()
	rootDir := GetRootDir()

	if err := ensureIndex(cfg, rootDir); err != nil {
		return err
	}

	retrieveUC, st, err := newRetriever(ctx, cfg, rootDir)
	if err != nil {
		return err
	}
	defer st.Close()

	completion, err := llm.NewCompletionService(cfg.Completion)
	if err != nil {
		return err
	}

	answerUC, err := usecase.NewAnswerUseCase(retrieveUC, completion, usecase.AnswerOptions{
		Model:          cfg.Completion.Model,
		Temperature:    cfg.Completion.Temperature,
		ResponseFormat: port.ResponseFormat(cfg.Completion.ResponseFormat),
		TopK:           cfg.Retrieve.TopK,
		Threshold:      cfg.Retrieve.Threshold,
		Separator:      cfg.Retrieve.Separator,
		ContextBudget:  cfg.Retrieve.ContextBudget,
		Retry:          retryPolicy(cfg),
	}, GetLogger(), nil)
	if err != nil {
		return err
	}

	if askQuestion != "" {
		return answerOne(ctx, answerUC, askQuestion, os.Stdout)
	}
	return answerLoop(ctx, answerUC, os.Stdin, os.Stdout)
}

// answerLoop answers one question per input line. A failed question is
// reported and the loop continues.
func answerLoop(ctx context.Context, answerUC *usecase.AnswerUseCase, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		question := strings.TrimSpace(scanner.Text())
		if question != "" {
			if err := answerOne(ctx, answerUC, question, out); err != nil {
				fmt.Fprintln(out, "Error:", err)
			}
		}
		fmt.Fprint(out, "> ")
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func answerOne(ctx context.Context, answerUC *usecase.AnswerUseCase, question string, out io.Writer) error {
	result, err := answerUC.Answer(ctx, domain.AnswerRequest{Question: question})
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}

	if askJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(output))
		return nil
	}

	if askShowContext {
		if len(result.ContextUsed) == 0 {
			fmt.Fprintln(out, "No matching notes, answering from general knowledge.")
		}
		for i, c := range result.ContextUsed {
			fmt.Fprintf(out, "--- context [%d] ---\n%s\n", i+1, truncate(c, 500))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, result.AnswerText)
	return nil
}
