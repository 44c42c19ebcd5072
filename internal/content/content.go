// Package content composes the digest email for a single subscriber.
package content

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/email"
)

// DigestTemplate is the name of the email template used for digests.
const DigestTemplate = "daily-digest"

// ErrNoContent is returned when none of the subscriber's symbols produced any content.
var ErrNoContent = errors.New("no content for any symbol")

// Article is a single news item about a symbol.
type Article struct {
	Title       string
	Summary     string
	Source      string
	URL         string
	PublishedAt time.Time
}

// NewsSource provides recent news for a symbol, newest first.
type NewsSource interface {
	Headlines(ctx context.Context, symbol auth.Symbol) ([]Article, error)
}

// Analyst writes short summaries of the news and the prices of a symbol.
type Analyst interface {
	Analyze(ctx context.Context, symbol auth.Symbol, articles []Article) (string, error)
	AnalyzePrices(ctx context.Context, symbol auth.Symbol, m PriceMetrics) (string, error)
}

// MessageRenderer renders a named email template, email.Service implements it.
type MessageRenderer interface {
	Render(ctx context.Context, name string, data any) (email.Message, error)
}

// Section is the part of the digest about one symbol.
type Section struct {
	Symbol        auth.Symbol
	Prices        *PriceMetrics
	PriceAnalysis string
	Analysis      string
	Articles      []Article
	// NewsUnavailable is set when only the news could not be fetched.
	NewsUnavailable bool
	Unavailable     bool
}

// Digest is the data passed to the digest template.
type Digest struct {
	Username auth.Username
	Date     string
	Sections []Section
}

// Settings configures a Composer.
type Settings struct {
	// Location is used to format the date in the subject. Defaults to UTC.
	Location *time.Location
	// MaxArticles caps the articles per symbol, 0 means no cap.
	MaxArticles int
}

// ComposerDeps are the dependencies of a Composer.
type ComposerDeps struct {
	News NewsSource
	// Prices is optional, without it digests contain no price figures.
	Prices PriceSource
	// Analyst is optional, without it digests contain no analysis.
	Analyst  Analyst
	Renderer MessageRenderer
	Logger   *slog.Logger
}

// Composer renders digests. It is safe for concurrent use when its
// dependencies are.
type Composer struct {
	deps     ComposerDeps
	settings Settings

	NowFunc func() time.Time
}

func NewComposer(deps ComposerDeps, s Settings) *Composer {
	if s.Location == nil {
		s.Location = time.UTC
	}

	return &Composer{
		deps:     deps,
		settings: s,
		NowFunc:  time.Now,
	}
}

// RenderDigest builds the digest for sub.
//
// A symbol for which neither news nor prices can be fetched is marked unavailable.
// When that is the case for every symbol, ErrNoContent is returned. A subscriber
// without favorites gets a digest asking them to add some.
func (c *Composer) RenderDigest(ctx context.Context, sub auth.Subscriber) (email.Message, error) {
	symbols := sub.Symbols
	if len(symbols) > auth.MaxFavorites {
		symbols = symbols[:auth.MaxFavorites]
	}

	digest := Digest{
		Username: sub.Username,
		Date:     c.NowFunc().In(c.settings.Location).Format("January 2, 2006"),
		Sections: make([]Section, 0, len(symbols)),
	}

	failed := 0
	for _, sym := range symbols {
		section, err := c.section(ctx, sym)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return email.Message{}, ctxErr
			}

			c.deps.Logger.Warn("failed to fetch content", "symbol", sym, "userID", sub.UserID, "error", err)
			failed++
		}

		digest.Sections = append(digest.Sections, section)
	}

	if len(symbols) > 0 && failed == len(symbols) {
		return email.Message{}, ErrNoContent
	}

	return c.deps.Renderer.Render(ctx, DigestTemplate, digest)
}

func (c *Composer) section(ctx context.Context, sym auth.Symbol) (Section, error) {
	s := Section{Symbol: sym}

	newsErr := c.addNews(ctx, &s)
	pricesErr := c.addPrices(ctx, &s)

	switch {
	case newsErr != nil && s.Prices == nil:
		return Section{Symbol: sym, Unavailable: true}, errors.Join(newsErr, pricesErr)
	case newsErr != nil:
		s.NewsUnavailable = true
		c.deps.Logger.Warn("failed to fetch news", "symbol", sym, "error", newsErr)
	case pricesErr != nil:
		c.deps.Logger.Warn("failed to fetch prices", "symbol", sym, "error", pricesErr)
	}

	return s, nil
}

func (c *Composer) addNews(ctx context.Context, s *Section) error {
	articles, err := c.deps.News.Headlines(ctx, s.Symbol)
	if err != nil {
		return err
	}

	if c.settings.MaxArticles > 0 && len(articles) > c.settings.MaxArticles {
		articles = articles[:c.settings.MaxArticles]
	}

	s.Articles = articles

	if c.deps.Analyst == nil || len(articles) == 0 {
		return nil
	}

	// the headlines are still useful without analysis.
	analysis, err := c.deps.Analyst.Analyze(ctx, s.Symbol, articles)
	if err != nil {
		c.deps.Logger.Debug("analysis failed, falling back to headlines", "symbol", s.Symbol, "error", err)
		return nil
	}

	s.Analysis = analysis
	return nil
}

// addPrices is a no-op without a price source.
func (c *Composer) addPrices(ctx context.Context, s *Section) error {
	if c.deps.Prices == nil {
		return nil
	}

	m, err := c.deps.Prices.Prices(ctx, s.Symbol)
	if err != nil {
		return err
	}

	s.Prices = &m

	if c.deps.Analyst == nil {
		return nil
	}

	// the digest shows the raw metrics instead.
	analysis, err := c.deps.Analyst.AnalyzePrices(ctx, s.Symbol, m)
	if err != nil {
		c.deps.Logger.Debug("price analysis failed, falling back to metrics", "symbol", s.Symbol, "error", err)
		return nil
	}

	s.PriceAnalysis = analysis
	return nil
}
