// Package postmark delivers digests through the Postmark email API.
package postmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/krypto"
)

// Tag groups the messages in the Postmark activity feed.
const Tag = "daily-digest"

type Settings struct {
	APIURL        *url.URL
	ServerToken   krypto.Secret
	MessageStream string
}

type Sender struct {
	client   *http.Client
	settings Settings
}

func NewSender(client *http.Client, s Settings) *Sender {
	return &Sender{
		client:   client,
		settings: s,
	}
}

// APIError is a rejection reported by Postmark.
type APIError struct {
	StatusCode int
	// ErrorCode is Postmark's own code, 0 if the response had none.
	ErrorCode int
	Message   string
}

func (e *APIError) Error() string {
	if e.ErrorCode == 0 {
		return fmt.Sprintf("postmark: status %d", e.StatusCode)
	}
	return fmt.Sprintf("postmark: status %d, error code %d: %s", e.StatusCode, e.ErrorCode, e.Message)
}

// payload field names are dictated by the API.
type payload struct {
	From          string
	To            string
	Subject       string
	Tag           string
	TextBody      string
	HtmlBody      string `json:",omitempty"` //nolint:revive
	MessageStream string
}

type result struct {
	ErrorCode int
	Message   string
	MessageID string
}

func (s *Sender) Send(ctx context.Context, from, recipient email.Address, msg email.Message) error {
	body, err := json.Marshal(payload{
		From:          from.String(),
		To:            recipient.String(),
		Subject:       msg.Subject,
		Tag:           Tag,
		TextBody:      msg.TextBody,
		HtmlBody:      msg.HTMLBody,
		MessageStream: s.settings.MessageStream,
	})
	if err != nil {
		return fmt.Errorf("failed to encode postmark payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.settings.APIURL.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", s.settings.ServerToken.SecretString())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return readResult(resp)
}

// readResult turns a response into nil or an *APIError. Gateways in front
// of the API answer with HTML, only JSON bodies are decoded.
func readResult(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var res result
		err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res)
		if err != nil {
			return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
		}
		apiErr.ErrorCode = res.ErrorCode
		apiErr.Message = res.Message
	}

	if resp.StatusCode == http.StatusOK && apiErr.ErrorCode == 0 {
		return nil
	}

	return apiErr
}
