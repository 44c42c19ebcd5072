// Package llm talks to OpenAI compatible chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/content"
	"github.com/willemschots/stockdigest/internal/krypto"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// ErrEmptyReply is returned when the model did not produce any text.
var ErrEmptyReply = errors.New("empty reply from model")

const analystPrompt = `You are a financial news assistant writing for a daily email digest.
Summarize what the provided headlines mean for the stock in at most four short sentences.
Plain text only, no markdown, no advice to buy or sell.`

const priceAnalystPrompt = `You are a financial analyst assistant writing for a daily email digest.
Summarize the provided price data for investors: the current price, recent changes and performance trends.
At most 120 words. Plain text only, no markdown, no advice to buy or sell.`

// Settings contains the settings for a chat completions API.
type Settings struct {
	BaseURL     string
	APIKey      krypto.Secret
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client is a minimal chat completions client. It implements content.Analyst.
type Client struct {
	client   *http.Client
	settings Settings
}

func New(client *http.Client, s Settings) *Client {
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}

	s.BaseURL = strings.TrimSuffix(s.BaseURL, "/")

	return &Client{
		client:   client,
		settings: s,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a system and user prompt and returns the reply of the model.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	data, err := json.Marshal(completionRequest{
		Model: c.settings.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.settings.Temperature,
		MaxTokens:   c.settings.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.settings.APIKey.SecretString())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var res completionResponse
	err = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res)
	if err != nil {
		return "", fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if res.Error != nil {
			return "", fmt.Errorf("request did not succeed %d: %s", resp.StatusCode, res.Error.Message)
		}
		return "", fmt.Errorf("request did not succeed, status code %d", resp.StatusCode)
	}

	if len(res.Choices) == 0 {
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(res.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	return reply, nil
}

// Analyze asks the model for a short take on the headlines of symbol.
func (c *Client) Analyze(ctx context.Context, symbol auth.Symbol, articles []content.Article) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Recent headlines for %s:\n\n", symbol)
	for _, a := range articles {
		fmt.Fprintf(&b, "- %s", a.Title)
		if a.Summary != "" {
			fmt.Fprintf(&b, ": %s", a.Summary)
		}
		b.WriteString("\n")
	}

	return c.Complete(ctx, analystPrompt, b.String())
}

// AnalyzePrices asks the model for a short take on the price metrics of symbol.
func (c *Client) AnalyzePrices(ctx context.Context, symbol auth.Symbol, m content.PriceMetrics) (string, error) {
	userPrompt := fmt.Sprintf("Price data for %s:\n\n%s", symbol, m)
	return c.Complete(ctx, priceAnalystPrompt, userPrompt)
}
