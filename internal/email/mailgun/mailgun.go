package mailgun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/krypto"
)

// Settings contains the settings for the Mailgun API.
type Settings struct {
	// BaseURL defaults to https://<APIHost>.
	BaseURL  string
	APIHost  string
	Domain   string
	Username string
	Password krypto.Secret
}

// Sender sends emails using the Mailgun API.
//
// The official mailgun package brings in a lot of dependencies we don't
// need, a single multipart POST is all it takes.
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

func (s *Sender) Send(ctx context.Context, from, recipient email.Address, msg email.Message) error {
	fields := [][2]string{
		{"from", string(from)},
		{"to", string(recipient)},
		{"subject", msg.Subject},
		{"text", msg.TextBody},
	}

	if msg.HTMLBody != "" {
		fields = append(fields, [2]string{"html", msg.HTMLBody})
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		err := w.WriteField(f[0], f[1])
		if err != nil {
			return err
		}
	}

	err := w.Close()
	if err != nil {
		return err
	}

	base := s.settings.BaseURL
	if base == "" {
		base = "https://" + s.settings.APIHost
	}

	reqURL := fmt.Sprintf("%s/v3/%s/messages", base, s.settings.Domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", w.FormDataContentType())
	req.SetBasicAuth(s.settings.Username, s.settings.Password.SecretString())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	resBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request did not succeed %d: %v", resp.StatusCode, string(resBody))
	}

	return nil
}
