package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/willemschots/stockdigest/internal/content"
	"github.com/willemschots/stockdigest/internal/content/llm"
	"github.com/willemschots/stockdigest/internal/krypto"
)

func Test_Client_Analyze(t *testing.T) {
	t.Run("ok, reply is returned", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/chat/completions" {
				t.Errorf("unexpected path %q", r.URL.Path)
			}

			if got := r.Header.Get("Authorization"); got != "Bearer key-123" {
				t.Errorf("unexpected authorization header %q", got)
			}

			var req struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			err := json.NewDecoder(r.Body).Decode(&req)
			if err != nil {
				t.Errorf("failed to decode request: %v", err)
			}

			if req.Model != "test-model" || len(req.Messages) != 2 {
				t.Errorf("unexpected request %+v", req)
			} else if !strings.Contains(req.Messages[1].Content, "- Apple beats estimates: Strong quarter.") {
				t.Errorf("user prompt does not list headlines:\n%s", req.Messages[1].Content)
			}

			_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "  Apple had a strong quarter.\n"}}]}`))
		}))
		defer srv.Close()

		got, err := newClient(srv.URL+"/v1/").Analyze(context.Background(), "AAPL", []content.Article{
			{Title: "Apple beats estimates", Summary: "Strong quarter."},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got != "Apple had a strong quarter." {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("fail, no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices": []}`))
		}))
		defer srv.Close()

		_, err := newClient(srv.URL).Analyze(context.Background(), "AAPL", nil)
		if !errors.Is(err, llm.ErrEmptyReply) {
			t.Fatalf("expected error %v, got %v", llm.ErrEmptyReply, err)
		}
	})

	t.Run("fail, error response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "rate limited"}}`))
		}))
		defer srv.Close()

		_, err := newClient(srv.URL).Analyze(context.Background(), "AAPL", nil)
		if err == nil || !strings.Contains(err.Error(), "rate limited") {
			t.Fatalf("expected rate limit error, got %v", err)
		}
	})
}

func Test_Client_AnalyzePrices(t *testing.T) {
	t.Run("ok, metrics are in the prompt", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Messages []struct {
					Content string `json:"content"`
				} `json:"messages"`
			}
			err := json.NewDecoder(r.Body).Decode(&req)
			if err != nil {
				t.Errorf("failed to decode request: %v", err)
			}

			if len(req.Messages) != 2 {
				t.Errorf("expected 2 messages, got %d", len(req.Messages))
			} else {
				prompt := req.Messages[1].Content
				for _, want := range []string{"AAPL", "Price: 200.00 USD (+5.00, +2.56% since previous close)", "1M +25.00%"} {
					if !strings.Contains(prompt, want) {
						t.Errorf("user prompt does not contain %q:\n%s", want, prompt)
					}
				}
			}

			_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "Apple rose 25% in a month."}}]}`))
		}))
		defer srv.Close()

		got, err := newClient(srv.URL).AnalyzePrices(context.Background(), "AAPL", content.PriceMetrics{
			Quote:       content.Quote{Currency: "USD", Price: 200, PreviousClose: 195},
			Performance: []content.Performance{{Period: "1M", ChangePercent: 25}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got != "Apple rose 25% in a month." {
			t.Errorf("unexpected analysis %q", got)
		}
	})
}

func newClient(baseURL string) *llm.Client {
	return llm.New(http.DefaultClient, llm.Settings{
		BaseURL: baseURL,
		APIKey:  krypto.NewSecret("key-123"),
		Model:   "test-model",
	})
}
