package content_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/stockdigest/assets"
	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/content"
	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/email/view"
)

func Test_Composer_RenderDigest(t *testing.T) {
	news := fakeNews{
		"AAPL": {
			{Title: "Apple unveils <script>alert(1)</script> chip", Summary: "A new chip.", Source: "example.com", URL: "https://example.com/apple"},
		},
		"MSFT": {
			{Title: "Microsoft beats estimates", Source: "example.org"},
		},
		"NONE": {},
	}

	prices := fakePrices{
		"AAPL": {
			Quote:       content.Quote{Currency: "USD", Price: 200, PreviousClose: 195},
			Performance: []content.Performance{{Period: "1M", ChangePercent: 25}},
		},
		// news for FAIL can't be fetched.
		"FAIL": {
			Quote: content.Quote{Currency: "USD", Price: 10, PreviousClose: 10},
		},
	}

	tests := map[string]struct {
		symbols  auth.Favorites
		prices   content.PriceSource
		analyst  content.Analyst
		contains []string
		absent   []string
	}{
		"headlines only": {
			symbols:  auth.Favorites{"AAPL", "MSFT"},
			contains: []string{"== AAPL ==", "Microsoft beats estimates", "https://example.com/apple"},
		},
		"with analysis": {
			symbols:  auth.Favorites{"AAPL"},
			analyst:  fakeAnalyst{reply: "Apple looks busy."},
			contains: []string{"Apple looks busy.", "Apple unveils"},
		},
		"analysis fails, headlines remain": {
			symbols:  auth.Favorites{"AAPL"},
			analyst:  fakeAnalyst{err: errors.New("model down")},
			contains: []string{"Apple unveils"},
			absent:   []string{"model down"},
		},
		"one symbol unavailable": {
			symbols:  auth.Favorites{"AAPL", "FAIL"},
			contains: []string{"Apple unveils", "No data could be retrieved for FAIL today."},
		},
		"symbol without news": {
			symbols:  auth.Favorites{"NONE"},
			contains: []string{"No recent news for NONE."},
		},
		"no favorites": {
			symbols:  nil,
			contains: []string{"You have no favorite stocks yet."},
		},
		"with price metrics": {
			symbols:  auth.Favorites{"AAPL"},
			prices:   prices,
			contains: []string{"Price: 200.00 USD (+5.00, +2.56% since previous close)", "1M +25.00%", "Apple unveils"},
		},
		"with price analysis": {
			symbols:  auth.Favorites{"AAPL"},
			prices:   prices,
			analyst:  fakeAnalyst{reply: "Apple looks busy.", priceReply: "Apple rose 25% in a month."},
			contains: []string{"Apple rose 25% in a month.", "Apple looks busy."},
			absent:   []string{"Price: 200.00 USD"},
		},
		"price analysis fails, metrics remain": {
			symbols:  auth.Favorites{"AAPL"},
			prices:   prices,
			analyst:  fakeAnalyst{priceErr: errors.New("model down")},
			contains: []string{"Price: 200.00 USD", "Apple unveils"},
			absent:   []string{"model down"},
		},
		"prices fail, news remains": {
			symbols:  auth.Favorites{"MSFT"},
			prices:   prices,
			contains: []string{"Microsoft beats estimates"},
			absent:   []string{"Price:", "No data could be retrieved"},
		},
		"news fails, prices remain": {
			symbols:  auth.Favorites{"FAIL"},
			prices:   prices,
			contains: []string{"Price: 10.00 USD", "No news could be retrieved for FAIL today."},
			absent:   []string{"No data could be retrieved"},
		},
	}

	for name, tc := range tests {
		t.Run("ok, "+name, func(t *testing.T) {
			c := newComposer(content.ComposerDeps{News: news, Prices: tc.prices, Analyst: tc.analyst})

			msg, err := c.RenderDigest(context.Background(), subscriber(tc.symbols))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if msg.Subject != "Your Daily Stock Update - March 4, 2024" {
				t.Errorf("unexpected subject %q", msg.Subject)
			}

			if !strings.HasPrefix(msg.TextBody, "Hi alice,") {
				t.Errorf("unexpected start of body:\n%s", msg.TextBody)
			}

			for _, want := range tc.contains {
				if !strings.Contains(msg.TextBody, want) {
					t.Errorf("text body does not contain %q:\n%s", want, msg.TextBody)
				}
			}

			for _, unwanted := range tc.absent {
				if strings.Contains(msg.TextBody, unwanted) {
					t.Errorf("text body contains %q:\n%s", unwanted, msg.TextBody)
				}
			}

			if msg.HTMLBody == "" {
				t.Errorf("expected a html body")
			}
		})
	}

	t.Run("ok, external text is escaped in html", func(t *testing.T) {
		c := newComposer(content.ComposerDeps{News: news})

		msg, err := c.RenderDigest(context.Background(), subscriber(auth.Favorites{"AAPL"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if strings.Contains(msg.HTMLBody, "<script>") {
			t.Errorf("html body contains unescaped script tag:\n%s", msg.HTMLBody)
		}

		if !strings.Contains(msg.HTMLBody, "&lt;script&gt;") {
			t.Errorf("html body does not contain escaped script tag:\n%s", msg.HTMLBody)
		}
	})

	t.Run("fail, all symbols unavailable", func(t *testing.T) {
		c := newComposer(content.ComposerDeps{News: news})

		_, err := c.RenderDigest(context.Background(), subscriber(auth.Favorites{"FAIL", "GONE"}))
		if !errors.Is(err, content.ErrNoContent) {
			t.Fatalf("expected error %v, got %v", content.ErrNoContent, err)
		}
	})

	t.Run("fail, neither news nor prices", func(t *testing.T) {
		c := newComposer(content.ComposerDeps{News: news, Prices: prices})

		_, err := c.RenderDigest(context.Background(), subscriber(auth.Favorites{"GONE"}))
		if !errors.Is(err, content.ErrNoContent) {
			t.Fatalf("expected error %v, got %v", content.ErrNoContent, err)
		}
	})

	t.Run("fail, context cancelled", func(t *testing.T) {
		c := newComposer(content.ComposerDeps{News: news})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.RenderDigest(ctx, subscriber(auth.Favorites{"FAIL"}))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected error %v, got %v", context.Canceled, err)
		}
	})
}

func newComposer(deps content.ComposerDeps) *content.Composer {
	deps.Renderer = email.NewService(view.NewFSRenderer(assets.EmailFS), email.NewMemorySender(), "digest@example.com")
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	c := content.NewComposer(deps, content.Settings{})
	c.NowFunc = func() time.Time {
		return time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
	}
	return c
}

func subscriber(symbols auth.Favorites) auth.Subscriber {
	return auth.Subscriber{
		UserID:   uuid.New(),
		Username: "alice",
		Email:    "alice@example.com",
		Symbols:  symbols,
	}
}

// fakeNews fails for symbols it doesn't know.
type fakeNews map[auth.Symbol][]content.Article

func (f fakeNews) Headlines(ctx context.Context, symbol auth.Symbol) ([]content.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	articles, ok := f[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return articles, nil
}

// fakePrices fails for symbols it doesn't know.
type fakePrices map[auth.Symbol]content.PriceMetrics

func (f fakePrices) Prices(ctx context.Context, symbol auth.Symbol) (content.PriceMetrics, error) {
	if err := ctx.Err(); err != nil {
		return content.PriceMetrics{}, err
	}

	m, ok := f[symbol]
	if !ok {
		return content.PriceMetrics{}, errors.New("unknown symbol")
	}
	return m, nil
}

type fakeAnalyst struct {
	reply      string
	err        error
	priceReply string
	priceErr   error
}

func (f fakeAnalyst) Analyze(_ context.Context, _ auth.Symbol, _ []content.Article) (string, error) {
	return f.reply, f.err
}

func (f fakeAnalyst) AnalyzePrices(_ context.Context, _ auth.Symbol, _ content.PriceMetrics) (string, error) {
	return f.priceReply, f.priceErr
}
