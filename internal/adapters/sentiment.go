package adapters

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// signedNumber extracts the first signed decimal from a model response.
var signedNumber = regexp.MustCompile(`-?\d+(\.\d+)?`)

// Sentiment scores market sentiment by prompting a local LLM endpoint
// (Ollama-style generate API) and extracting the first signed number from
// the response, clamped to [-1, 1].
type Sentiment struct {
	client *Client
	url    string
	model  string
}

// NewSentiment creates a sentiment adapter. url defaults to a local Ollama
// instance; llmModel defaults to phi3:mini.
func NewSentiment(client *Client, url, llmModel string) *Sentiment {
	if url == "" {
		url = "http://localhost:11434/api/generate"
	}
	if llmModel == "" {
		llmModel = "phi3:mini"
	}
	return &Sentiment{client: client, url: url, model: llmModel}
}

// Score rates the given text from -1 (very negative) to +1 (very positive).
// Callers degrade to 0 on error.
func (s *Sentiment) Score(ctx context.Context, text string) (float64, error) {
	body := map[string]any{
		"model":  s.model,
		"prompt": fmt.Sprintf("Rate the sentiment of this crypto post from -1 (very negative) to +1 (very positive). Return only the number:\n\n%q", text),
		"stream": false,
	}
	var resp struct {
		Response string `json:"response"`
	}
	if err := s.client.postJSON(ctx, "sentiment", s.url, body, &resp); err != nil {
		return 0, fmt.Errorf("sentiment: %w", err)
	}

	match := signedNumber.FindString(resp.Response)
	if match == "" {
		return 0, fmt.Errorf("sentiment: no score in response %q", resp.Response)
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("sentiment: parse %q: %w", match, err)
	}
	return clamp(score, -1, 1), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
