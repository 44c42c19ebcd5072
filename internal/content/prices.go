package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/willemschots/stockdigest/internal/auth"
)

// Quote is the latest trading data of a symbol.
type Quote struct {
	Currency      string
	Price         float64
	PreviousClose float64
	DayHigh       float64
	DayLow        float64
	Volume        int64
	YearHigh      float64
	YearLow       float64
	AsOf          time.Time
}

// Change is the price change since the previous close.
func (q Quote) Change() float64 {
	return q.Price - q.PreviousClose
}

// ChangePercent is Change relative to the previous close, 0 without a previous close.
func (q Quote) ChangePercent() float64 {
	if q.PreviousClose == 0 {
		return 0
	}
	return q.Change() / q.PreviousClose * 100
}

// Performance is the price change over a trailing period, like "1M".
type Performance struct {
	Period        string
	ChangePercent float64
}

// PriceMetrics are the price figures of a symbol.
type PriceMetrics struct {
	Quote       Quote
	Performance []Performance
}

// String formats the metrics as plain text. It is used as prompt input
// and shown in digests when there is no analysis.
func (m PriceMetrics) String() string {
	q := m.Quote

	var b strings.Builder
	fmt.Fprintf(&b, "Price: %.2f %s (%+.2f, %+.2f%% since previous close)", q.Price, q.Currency, q.Change(), q.ChangePercent())

	if q.DayHigh > 0 {
		fmt.Fprintf(&b, "\nDay range: %.2f - %.2f", q.DayLow, q.DayHigh)
	}

	if q.Volume > 0 {
		fmt.Fprintf(&b, "\nVolume: %d", q.Volume)
	}

	if q.YearHigh > 0 {
		fmt.Fprintf(&b, "\n52-week range: %.2f - %.2f", q.YearLow, q.YearHigh)
	}

	if len(m.Performance) > 0 {
		b.WriteString("\nPerformance:")
		for i, p := range m.Performance {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, " %s %+.2f%%", p.Period, p.ChangePercent)
		}
	}

	return b.String()
}

// PriceSource provides price metrics for a symbol.
type PriceSource interface {
	Prices(ctx context.Context, symbol auth.Symbol) (PriceMetrics, error)
}
