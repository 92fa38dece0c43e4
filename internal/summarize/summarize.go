// Package summarize produces short meeting summaries via an LLM. The
// summarizer is optional; deployments without an API key simply skip the
// summary step.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultModel = openai.ChatModelGPT4oMini

	// Transcripts can run long; keep the prompt bounded.
	maxTranscriptChars = 48_000

	systemPrompt = "You summarize meeting transcripts. Reply with 2-4 plain sentences covering decisions and next steps. No preamble, no markdown."
)

// Summarizer calls the chat completion API.
type Summarizer struct {
	client openai.Client
	model  string
}

// New creates a summarizer. baseURL overrides the API endpoint when
// non-empty, which tests use to point at a local fake.
func New(apiKey, baseURL string) *Summarizer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Summarizer{
		client: openai.NewClient(opts...),
		model:  defaultModel,
	}
}

// Summarize returns a short summary of one transcript.
func (s *Summarizer) Summarize(ctx context.Context, title, transcript string) (string, error) {
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[:maxTranscriptChars]
	}

	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf("Meeting: %s\n\nTranscript:\n%s", title, transcript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize transcript: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("summarize transcript: empty completion")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
