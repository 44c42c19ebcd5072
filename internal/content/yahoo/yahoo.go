// Package yahoo fetches price metrics from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/content"
)

const (
	DefaultAPIURL = "https://query1.finance.yahoo.com/v8/finance/chart"

	// the chart API rejects requests without a user agent.
	userAgent = "stockdigest/1.0"
)

// ErrNoData is returned when the chart contains no prices.
var ErrNoData = errors.New("no price data")

// periods are the trailing periods reported as performance.
var periods = []struct {
	name                string
	years, months, days int
}{
	{name: "1W", days: -7},
	{name: "1M", months: -1},
	{name: "3M", months: -3},
	{name: "6M", months: -6},
	{name: "1Y", years: -1},
}

// Settings contains the settings for the chart API.
type Settings struct {
	APIURL string
}

// Client is a content.PriceSource backed by one year of daily closes.
type Client struct {
	client   *http.Client
	settings Settings
}

func New(client *http.Client, s Settings) *Client {
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}

	s.APIURL = strings.TrimSuffix(s.APIURL, "/")

	return &Client{
		client:   client,
		settings: s,
	}
}

type metaJSON struct {
	Currency             string  `json:"currency"`
	RegularMarketPrice   float64 `json:"regularMarketPrice"`
	RegularMarketTime    int64   `json:"regularMarketTime"`
	RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
	RegularMarketVolume  int64   `json:"regularMarketVolume"`
	PreviousClose        float64 `json:"previousClose"`
	FiftyTwoWeekHigh     float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow      float64 `json:"fiftyTwoWeekLow"`
}

type resultJSON struct {
	Meta       metaJSON `json:"meta"`
	Timestamp  []int64  `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			// missing days are null.
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

type responseJSON struct {
	Chart struct {
		Result []resultJSON `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Prices returns the quote and trailing performance of symbol.
func (c *Client) Prices(ctx context.Context, symbol auth.Symbol) (content.PriceMetrics, error) {
	u, err := url.Parse(c.settings.APIURL + "/" + url.PathEscape(string(symbol)))
	if err != nil {
		return content.PriceMetrics{}, fmt.Errorf("invalid api url: %w", err)
	}

	q := u.Query()
	q.Set("range", "1y")
	q.Set("interval", "1d")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return content.PriceMetrics{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return content.PriceMetrics{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var res responseJSON
	err = json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&res)
	if err != nil {
		return content.PriceMetrics{}, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if e := res.Chart.Error; e != nil {
		return content.PriceMetrics{}, fmt.Errorf("yahoo error %s: %s", e.Code, e.Description)
	}

	if resp.StatusCode != http.StatusOK {
		return content.PriceMetrics{}, fmt.Errorf("request did not succeed, status code %d", resp.StatusCode)
	}

	if len(res.Chart.Result) == 0 {
		return content.PriceMetrics{}, ErrNoData
	}

	return metrics(res.Chart.Result[0])
}

type point struct {
	at    time.Time
	close float64
}

func metrics(r resultJSON) (content.PriceMetrics, error) {
	var closes []*float64
	if len(r.Indicators.Quote) > 0 {
		closes = r.Indicators.Quote[0].Close
	}

	points := make([]point, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		points = append(points, point{at: time.Unix(ts, 0).UTC(), close: *closes[i]})
	}

	if len(points) == 0 && r.Meta.RegularMarketPrice == 0 {
		return content.PriceMetrics{}, ErrNoData
	}

	quote := content.Quote{
		Currency:      r.Meta.Currency,
		Price:         r.Meta.RegularMarketPrice,
		PreviousClose: r.Meta.PreviousClose,
		DayHigh:       r.Meta.RegularMarketDayHigh,
		DayLow:        r.Meta.RegularMarketDayLow,
		Volume:        r.Meta.RegularMarketVolume,
		YearHigh:      r.Meta.FiftyTwoWeekHigh,
		YearLow:       r.Meta.FiftyTwoWeekLow,
	}

	if r.Meta.RegularMarketTime > 0 {
		quote.AsOf = time.Unix(r.Meta.RegularMarketTime, 0).UTC()
	}

	if n := len(points); n > 0 {
		last := points[n-1]
		if quote.Price == 0 {
			quote.Price = last.close
		}
		if quote.AsOf.IsZero() {
			quote.AsOf = last.at
		}
		if quote.PreviousClose == 0 && n > 1 {
			quote.PreviousClose = points[n-2].close
		}
	}

	if quote.YearHigh == 0 && len(points) > 0 {
		quote.YearLow, quote.YearHigh = math.Inf(1), math.Inf(-1)
		for _, p := range points {
			quote.YearLow = min(quote.YearLow, p.close)
			quote.YearHigh = max(quote.YearHigh, p.close)
		}
	}

	m := content.PriceMetrics{Quote: quote}
	for _, p := range periods {
		base, ok := closeAt(points, quote.AsOf.AddDate(p.years, p.months, p.days))
		if !ok || base == 0 {
			continue
		}

		m.Performance = append(m.Performance, content.Performance{
			Period:        p.name,
			ChangePercent: (quote.Price - base) / base * 100,
		})
	}

	return m, nil
}

// closeAt returns the last close at or before t. points are in time order.
func closeAt(points []point, t time.Time) (float64, bool) {
	found := false
	var c float64
	for _, p := range points {
		if p.at.After(t) {
			break
		}
		c, found = p.close, true
	}
	return c, found
}
