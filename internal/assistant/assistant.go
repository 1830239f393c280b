// Package assistant turns raw Braille detection rows into readable text with
// help from a chat-completion model.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"braillescan/internal/ai"
)

const systemPrompt = `You read the output of a Braille cell detector. Each input line is one row of
detected cells, already transcribed to print characters in reading order; spaces mark wide gaps.
The detector can miss cells or confuse similar ones (for example e/i, d/f, h/j), and may split or
merge words. Reconstruct the most likely intended text, keep the row structure only where it
reflects real line breaks, and do not invent content that is not supported by the cells.
Reply with a JSON object: {"text": string, "explanation": string, "confidence": number between 0 and 1}.`

type Result struct {
	Text        string  `json:"text"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
}

type Completer interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, opts ai.CompletionOptions) (string, error)
}

type Assistant struct {
	client Completer
	cfg    ai.ChatConfig
}

func New(client Completer, cfg ai.ChatConfig) *Assistant {
	return &Assistant{client: client, cfg: cfg}
}

// Configured reports whether an LLM endpoint is available.
func (a *Assistant) Configured() bool {
	return a.client != nil && a.cfg.BaseURL != "" && a.cfg.APIKey != "" && a.cfg.Model != ""
}

// Process interprets rows. Without an LLM endpoint the rows are returned
// verbatim with zero confidence.
func (a *Assistant) Process(ctx context.Context, rows []string) (*Result, error) {
	if len(rows) == 0 {
		return &Result{Explanation: "No Braille characters were detected in the image."}, nil
	}
	if !a.Configured() {
		return &Result{
			Text:        normalize(strings.Join(rows, "\n")),
			Explanation: "Raw detector output; no language model is configured to interpret it.",
		}, nil
	}

	messages := []ai.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Detected rows:\n" + strings.Join(rows, "\n")},
	}
	content, err := a.client.Complete(ctx, a.cfg, messages, ai.CompletionOptions{Temperature: 0.2, JSONMode: true})
	if err != nil {
		return nil, fmt.Errorf("assistant completion failed: %w", err)
	}
	return parseReply(content), nil
}

func parseReply(content string) *Result {
	body := stripCodeFence(strings.TrimSpace(content))

	var reply struct {
		Text        string   `json:"text"`
		Explanation string   `json:"explanation"`
		Confidence  *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return &Result{
			Text:        normalize(body),
			Explanation: "The language model returned an unstructured reply.",
		}
	}

	confidence := 0.0
	if reply.Confidence != nil {
		confidence = clamp(*reply.Confidence)
	}
	return &Result{
		Text:        normalize(reply.Text),
		Explanation: normalize(reply.Explanation),
		Confidence:  confidence,
	}
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
