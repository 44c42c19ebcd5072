// Package app builds the components of the digest system from a config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/willemschots/stockdigest/assets"
	"github.com/willemschots/stockdigest/internal"
	"github.com/willemschots/stockdigest/internal/auth"
	authdb "github.com/willemschots/stockdigest/internal/auth/db"
	"github.com/willemschots/stockdigest/internal/config"
	"github.com/willemschots/stockdigest/internal/content"
	"github.com/willemschots/stockdigest/internal/content/llm"
	"github.com/willemschots/stockdigest/internal/content/marketaux"
	"github.com/willemschots/stockdigest/internal/content/yahoo"
	"github.com/willemschots/stockdigest/internal/db"
	"github.com/willemschots/stockdigest/internal/db/migrate"
	"github.com/willemschots/stockdigest/internal/dispatch"
	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/email/mailgun"
	"github.com/willemschots/stockdigest/internal/email/postmark"
	"github.com/willemschots/stockdigest/internal/email/smtp"
	"github.com/willemschots/stockdigest/internal/email/view"
	"github.com/willemschots/stockdigest/internal/krypto"
	"github.com/willemschots/stockdigest/internal/runlog"
	"github.com/willemschots/stockdigest/internal/schedule"
	"github.com/willemschots/stockdigest/internal/session"
	"github.com/willemschots/stockdigest/migrations"
)

const httpClientTimeout = 30 * time.Second

// App holds the wired components. Close releases the database and the run log.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	DB         *db.Pools
	Auth       *auth.Service
	Email      *email.Service
	Composer   *content.Composer
	RunLog     *runlog.FileLog
	Dispatcher *dispatch.Dispatcher
	Engine     *schedule.Engine
	// Sessions is nil when no session key is configured.
	Sessions *session.Issuer
}

// Options override parts of the wiring.
type Options struct {
	// Clock defaults to schedule.SystemClock.
	Clock schedule.Clock
	// Sender replaces the sender selected by the email driver.
	Sender email.Sender
	// HTTPClient is used for all outgoing API calls.
	HTTPClient *http.Client
}

// New opens the database, runs migrations when configured and wires all components.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = schedule.SystemClock{}
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: httpClientTimeout}
	}

	trigger, err := cfg.Schedule.Trigger()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Logger: logger,
	}

	a.DB, err = OpenDB(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}

	authService, err := NewAuthService(a.DB, cfg.DB, logger)
	if err != nil {
		return nil, a.closeWith(err)
	}
	a.Auth = authService

	sender := opts.Sender
	if sender == nil {
		sender = NewSender(cfg.Email, opts.HTTPClient, logger)
	}

	a.Email = email.NewService(view.NewFSRenderer(assets.EmailFS), sender, cfg.Email.From)

	a.Composer = newComposer(cfg.Content, trigger.Location, opts.HTTPClient, a.Email, logger)

	a.RunLog, err = runlog.OpenFile(cfg.RunLog)
	if err != nil {
		return nil, a.closeWith(fmt.Errorf("failed to open run log: %w", err))
	}

	a.Dispatcher = dispatch.New(a.Auth, a.Composer, a.Email, a.RunLog, logger, cfg.Dispatch)
	a.Engine = schedule.NewEngine(trigger, opts.Clock, a.Dispatcher, logger)

	if !cfg.Session.Key.IsZero() {
		a.Sessions = session.NewIssuer(cfg.Session.Key, cfg.Session.TTL)
	}

	return a, nil
}

// OpenDB opens the database pools and applies pending migrations if c.Migrate is set.
func OpenDB(ctx context.Context, c config.DBConfig, logger *slog.Logger) (*db.Pools, error) {
	pools, err := db.Open(c.Dialect, c.Source())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if !c.Migrate {
		return pools, nil
	}

	ran, err := Migrate(ctx, pools)
	if err != nil {
		return nil, errors.Join(err, pools.Close())
	}

	for _, m := range ran {
		logger.Info("applied migration", "sequence", m.Sequence, "filename", m.Filename)
	}

	return pools, nil
}

// Migrate applies pending migrations to the write pool.
func Migrate(ctx context.Context, pools *db.Pools) ([]migrate.Migration, error) {
	fsys, err := migrations.FS(pools.Dialect)
	if err != nil {
		return nil, err
	}

	meta := migrate.Metadata{
		AppVersion: internal.BuildInfo.Version(),
		Timestamp:  internal.BuildInfo.Time,
	}

	ran, err := migrate.RunFS(ctx, pools.Write, pools.Dialect, fsys, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return ran, nil
}

// NewAuthService creates the auth service on top of the database.
func NewAuthService(pools *db.Pools, c config.DBConfig, logger *slog.Logger) (*auth.Service, error) {
	encryptor, err := krypto.NewEncryptor(c.EncryptionKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	store := authdb.New(pools.Dialect, pools.Write, pools.Read, encryptor, c.BlindIndexSalt)

	return auth.NewService(store, logger)
}

// NewSender returns the sender for the configured driver.
func NewSender(c config.EmailConfig, client *http.Client, logger *slog.Logger) email.Sender {
	switch c.Driver {
	case config.EmailDriverSMTP:
		return smtp.NewSender(c.SMTP)
	case config.EmailDriverPostmark:
		return postmark.NewSender(client, c.Postmark)
	case config.EmailDriverMailgun:
		return mailgun.NewSender(client, c.Mailgun)
	default:
		return email.NewLogSender(logger)
	}
}

func newComposer(c config.ContentConfig, loc *time.Location, client *http.Client, renderer content.MessageRenderer, logger *slog.Logger) *content.Composer {
	if c.News.Token.IsZero() {
		logger.Warn("NEWS_API_TOKEN is not set, news requests will likely fail")
	}

	var news content.NewsSource = marketaux.New(client, c.News)
	if c.CacheTTL > 0 {
		news = content.NewCachedSource(news, c.CacheTTL)
	}

	var prices content.PriceSource
	if c.PricesEnabled {
		prices = yahoo.New(client, c.Prices)
		if c.CacheTTL > 0 {
			prices = content.NewCachedPriceSource(prices, c.CacheTTL)
		}
	}

	// without an analyst the digest only lists headlines and metrics.
	var analyst content.Analyst
	if !c.LLM.APIKey.IsZero() {
		analyst = llm.New(client, c.LLM)
	}

	deps := content.ComposerDeps{
		News:     news,
		Prices:   prices,
		Analyst:  analyst,
		Renderer: renderer,
		Logger:   logger,
	}

	return content.NewComposer(deps, content.Settings{
		Location:    loc,
		MaxArticles: c.News.Limit,
	})
}

// Close closes the run log and the database.
func (a *App) Close() error {
	var errs []error
	if a.RunLog != nil {
		errs = append(errs, a.RunLog.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func (a *App) closeWith(err error) error {
	return errors.Join(err, a.Close())
}
