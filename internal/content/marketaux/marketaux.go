// Package marketaux fetches stock news from the Marketaux API.
package marketaux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/content"
	"github.com/willemschots/stockdigest/internal/krypto"
)

const (
	DefaultAPIURL = "https://api.marketaux.com/v1/news/all"

	maxTitleLen   = 220
	maxSummaryLen = 600
)

// Settings contains the settings for the Marketaux API.
type Settings struct {
	APIURL   string
	Token    krypto.Secret
	Limit    int
	Language string
}

// Client is a content.NewsSource backed by the Marketaux news endpoint.
type Client struct {
	client   *http.Client
	settings Settings
}

func New(client *http.Client, s Settings) *Client {
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}

	if s.Language == "" {
		s.Language = "en"
	}

	return &Client{
		client:   client,
		settings: s,
	}
}

type entityJSON struct {
	Symbol string `json:"symbol"`
}

type articleJSON struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Snippet     string       `json:"snippet"`
	URL         string       `json:"url"`
	Source      string       `json:"source"`
	PublishedAt string       `json:"published_at"`
	Entities    []entityJSON `json:"entities"`
}

type responseJSON struct {
	Data  []articleJSON `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Headlines returns the most recent articles about symbol, newest first.
func (c *Client) Headlines(ctx context.Context, symbol auth.Symbol) ([]content.Article, error) {
	u, err := url.Parse(c.settings.APIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}

	q := u.Query()
	q.Set("symbols", string(symbol))
	q.Set("filter_entities", "true")
	q.Set("language", c.settings.Language)
	q.Set("api_token", c.settings.Token.SecretString())
	if c.settings.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.settings.Limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// the url contains the api token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var res responseJSON
	err = json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&res)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if res.Error != nil {
		return nil, fmt.Errorf("marketaux error %s: %s", res.Error.Code, res.Error.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request did not succeed, status code %d", resp.StatusCode)
	}

	articles := make([]content.Article, 0, len(res.Data))
	for _, a := range res.Data {
		title := clean(a.Title, maxTitleLen)
		if title == "" {
			continue
		}

		summary := a.Snippet
		if summary == "" {
			summary = a.Description
		}

		// unparseable timestamps sort last.
		published, _ := time.Parse(time.RFC3339, a.PublishedAt)

		articles = append(articles, content.Article{
			Title:       title,
			Summary:     clean(summary, maxSummaryLen),
			Source:      strings.TrimSpace(a.Source),
			URL:         safeURL(a.URL),
			PublishedAt: published,
		})
	}

	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})

	return articles, nil
}

// clean collapses whitespace and cuts s to at most maxLen runes.
func clean(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")

	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}

	return string(r[:maxLen-1]) + "…"
}

// safeURL only lets through absolute http(s) urls, anything else ends up as a link in emails.
func safeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}
