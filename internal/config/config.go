// Package config reads the configuration of all commands from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	// the schedule timezone needs to load on hosts without a zoneinfo database.
	_ "time/tzdata"

	"github.com/willemschots/stockdigest/internal/content/llm"
	"github.com/willemschots/stockdigest/internal/content/marketaux"
	"github.com/willemschots/stockdigest/internal/content/yahoo"
	"github.com/willemschots/stockdigest/internal/db"
	"github.com/willemschots/stockdigest/internal/dispatch"
	"github.com/willemschots/stockdigest/internal/email"
	"github.com/willemschots/stockdigest/internal/email/mailgun"
	"github.com/willemschots/stockdigest/internal/email/postmark"
	"github.com/willemschots/stockdigest/internal/email/smtp"
	"github.com/willemschots/stockdigest/internal/krypto"
	"github.com/willemschots/stockdigest/internal/schedule"
)

// EmailDriver selects how emails are delivered.
type EmailDriver string

const (
	EmailDriverLog      EmailDriver = "log"
	EmailDriverSMTP     EmailDriver = "smtp"
	EmailDriverPostmark EmailDriver = "postmark"
	EmailDriverMailgun  EmailDriver = "mailgun"
)

type DBConfig struct {
	Dialect        db.Dialect
	File           string
	DSN            string
	Migrate        bool
	EncryptionKeys []krypto.Key
	BlindIndexSalt krypto.Key
}

// Source returns the file or DSN for the configured dialect.
func (c DBConfig) Source() string {
	if c.Dialect == db.Postgres {
		return c.DSN
	}
	return c.File
}

type ScheduleConfig struct {
	Time     string
	Timezone string
}

// Trigger parses the schedule. Values from FromEnv are known to parse.
func (c ScheduleConfig) Trigger() (schedule.Trigger, error) {
	return schedule.ParseTrigger(c.Time, c.Timezone)
}

type EmailConfig struct {
	Driver   EmailDriver
	From     email.Address
	SMTP     smtp.Settings
	Postmark postmark.Settings
	Mailgun  mailgun.Settings
}

type ContentConfig struct {
	News          marketaux.Settings
	Prices        yahoo.Settings
	PricesEnabled bool
	LLM           llm.Settings
	CacheTTL      time.Duration
}

type SessionConfig struct {
	// Key is optional, without it no session tokens are issued.
	Key krypto.Key
	TTL time.Duration
}

type OpsConfig struct {
	// Addr is optional, without it the ops server is not started.
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Config is the configuration shared by all commands.
type Config struct {
	DB       DBConfig
	Schedule ScheduleConfig
	Dispatch dispatch.Config
	RunLog   string
	Email    EmailConfig
	Content  ContentConfig
	Session  SessionConfig
	Ops      OpsConfig
}

// Default returns a config with sane default values. Required values are left empty.
func Default() Config {
	return Config{
		DB: DBConfig{
			Dialect: db.SQLite,
			File:    "stockdigest.db",
			Migrate: true,
		},
		Schedule: ScheduleConfig{
			Time:     "08:00",
			Timezone: "Australia/Sydney",
		},
		Dispatch: dispatch.DefaultConfig(),
		RunLog:   "dispatch-runs.jsonl",
		Email: EmailConfig{
			Driver: EmailDriverLog,
			SMTP: smtp.Settings{
				Host:    "smtp.gmail.com",
				Port:    587,
				TLSMode: smtp.TLSStartTLS,
			},
		},
		Content: ContentConfig{
			News: marketaux.Settings{
				APIURL: marketaux.DefaultAPIURL,
				Limit:  5,
			},
			Prices: yahoo.Settings{
				APIURL: yahoo.DefaultAPIURL,
			},
			PricesEnabled: true,
			LLM: llm.Settings{
				BaseURL: llm.DefaultBaseURL,
				Model:   "gpt-4o-mini",
			},
			CacheTTL: 30 * time.Minute,
		},
		Session: SessionConfig{
			TTL: 24 * time.Hour,
		},
		Ops: OpsConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Minute,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

type setter func(v string, c *Config) error

// envMap maps environment variable names to fields in the config struct.
var envMap = map[string]setter{
	"DB_DRIVER": func(v string, c *Config) error {
		d, err := db.ParseDialect(v)
		c.DB.Dialect = d
		return err
	},
	"DB_FILENAME": func(v string, c *Config) error {
		return confString(v, &c.DB.File)
	},
	"DB_DSN": func(v string, c *Config) error {
		return confString(v, &c.DB.DSN)
	},
	"DB_MIGRATE": func(v string, c *Config) error {
		return confBool(v, &c.DB.Migrate)
	},
	"DB_ENCRYPTION_KEYS": func(v string, c *Config) error {
		keys, err := krypto.ParseKeys(v)
		c.DB.EncryptionKeys = keys
		return err
	},
	"DB_BLIND_INDEX_SALT": func(v string, c *Config) error {
		return confKey(v, &c.DB.BlindIndexSalt)
	},
	"SCHEDULE_TIME": func(v string, c *Config) error {
		return confString(v, &c.Schedule.Time)
	},
	"SCHEDULE_TIMEZONE": func(v string, c *Config) error {
		return confString(v, &c.Schedule.Timezone)
	},
	"DISPATCH_WORKERS": func(v string, c *Config) error {
		return confInt(v, &c.Dispatch.Workers, 1, 64)
	},
	"DISPATCH_RENDER_TIMEOUT": func(v string, c *Config) error {
		return confDuration(v, &c.Dispatch.RenderTimeout, time.Second, math.MaxInt64)
	},
	"DISPATCH_SEND_TIMEOUT": func(v string, c *Config) error {
		return confDuration(v, &c.Dispatch.SendTimeout, time.Second, math.MaxInt64)
	},
	"DISPATCH_LIST_ATTEMPTS": func(v string, c *Config) error {
		return confInt(v, &c.Dispatch.ListAttempts, 1, 100)
	},
	"DISPATCH_LIST_BACKOFF": func(v string, c *Config) error {
		return confDuration(v, &c.Dispatch.ListBackoff, 0, time.Hour)
	},
	"RUNLOG_FILE": func(v string, c *Config) error {
		return confString(v, &c.RunLog)
	},
	"EMAIL_DRIVER": func(v string, c *Config) error {
		switch d := EmailDriver(v); d {
		case EmailDriverLog, EmailDriverSMTP, EmailDriverPostmark, EmailDriverMailgun:
			c.Email.Driver = d
			return nil
		default:
			return fmt.Errorf("unknown email driver %q", v)
		}
	},
	"EMAIL_FROM": func(v string, c *Config) error {
		addr, err := email.ParseAddress(v)
		c.Email.From = addr
		return err
	},
	"SMTP_HOST": func(v string, c *Config) error {
		return confString(v, &c.Email.SMTP.Host)
	},
	"SMTP_PORT": func(v string, c *Config) error {
		return confInt(v, &c.Email.SMTP.Port, 1, 65535)
	},
	"SMTP_USERNAME": func(v string, c *Config) error {
		c.Email.SMTP.Username = v
		return nil
	},
	"SMTP_PASSWORD": func(v string, c *Config) error {
		c.Email.SMTP.Password = krypto.NewSecret(v)
		return nil
	},
	"SMTP_TLS_MODE": func(v string, c *Config) error {
		m, err := smtp.ParseTLSMode(v)
		c.Email.SMTP.TLSMode = m
		return err
	},
	"POSTMARK_API_URL": func(v string, c *Config) error {
		return confURL(v, &c.Email.Postmark.APIURL)
	},
	"POSTMARK_SERVER_TOKEN": func(v string, c *Config) error {
		c.Email.Postmark.ServerToken = krypto.NewSecret(v)
		return nil
	},
	"POSTMARK_MESSAGE_STREAM": func(v string, c *Config) error {
		c.Email.Postmark.MessageStream = v
		return nil
	},
	"MAILGUN_API_HOST": func(v string, c *Config) error {
		c.Email.Mailgun.APIHost = v
		return nil
	},
	"MAILGUN_DOMAIN": func(v string, c *Config) error {
		c.Email.Mailgun.Domain = v
		return nil
	},
	"MAILGUN_USERNAME": func(v string, c *Config) error {
		c.Email.Mailgun.Username = v
		return nil
	},
	"MAILGUN_PASSWORD": func(v string, c *Config) error {
		c.Email.Mailgun.Password = krypto.NewSecret(v)
		return nil
	},
	"NEWS_API_URL": func(v string, c *Config) error {
		u, err := parseURL(v)
		if err != nil {
			return err
		}
		c.Content.News.APIURL = u.String()
		return nil
	},
	"NEWS_API_TOKEN": func(v string, c *Config) error {
		c.Content.News.Token = krypto.NewSecret(v)
		return nil
	},
	"NEWS_LIMIT": func(v string, c *Config) error {
		return confInt(v, &c.Content.News.Limit, 1, 50)
	},
	"PRICES_ENABLED": func(v string, c *Config) error {
		return confBool(v, &c.Content.PricesEnabled)
	},
	"PRICES_API_URL": func(v string, c *Config) error {
		u, err := parseURL(v)
		if err != nil {
			return err
		}
		c.Content.Prices.APIURL = u.String()
		return nil
	},
	"LLM_API_URL": func(v string, c *Config) error {
		u, err := parseURL(v)
		if err != nil {
			return err
		}
		c.Content.LLM.BaseURL = u.String()
		return nil
	},
	"LLM_API_KEY": func(v string, c *Config) error {
		c.Content.LLM.APIKey = krypto.NewSecret(v)
		return nil
	},
	"LLM_MODEL": func(v string, c *Config) error {
		return confString(v, &c.Content.LLM.Model)
	},
	"CONTENT_CACHE_TTL": func(v string, c *Config) error {
		return confDuration(v, &c.Content.CacheTTL, time.Second, 24*time.Hour)
	},
	"SESSION_KEY": func(v string, c *Config) error {
		return confKey(v, &c.Session.Key)
	},
	"SESSION_TTL": func(v string, c *Config) error {
		return confDuration(v, &c.Session.TTL, time.Minute, 90*24*time.Hour)
	},
	"OPS_ADDR": func(v string, c *Config) error {
		c.Ops.Addr = v
		return nil
	},
	"OPS_READ_TIMEOUT": func(v string, c *Config) error {
		return confDuration(v, &c.Ops.ReadTimeout, 0, math.MaxInt64)
	},
	"OPS_WRITE_TIMEOUT": func(v string, c *Config) error {
		return confDuration(v, &c.Ops.WriteTimeout, 0, math.MaxInt64)
	},
	"OPS_IDLE_TIMEOUT": func(v string, c *Config) error {
		return confDuration(v, &c.Ops.IdleTimeout, 0, math.MaxInt64)
	},
	"OPS_SHUTDOWN_TIMEOUT": func(v string, c *Config) error {
		return confDuration(v, &c.Ops.ShutdownTimeout, 0, math.MaxInt64)
	},
}

// required lists the env variables that have no default.
var required = []string{
	"DB_ENCRYPTION_KEYS",
	"DB_BLIND_INDEX_SALT",
	"EMAIL_FROM",
}

// FromEnv returns a config with values from the environment. It falls
// back to default values for any missing environment variables.
//
// All invalid and missing variables are reported in a single error.
// There is no guarantee that a returned config works, but mistakes
// that can be caught early are.
func FromEnv() (Config, error) {
	c := Default()

	var errs []error
	for _, key := range sortedKeys() {
		val, ok := os.LookupEnv(key)
		if !ok {
			continue
		}

		if err := envMap[key](val, &c); err != nil {
			errs = append(errs, fmt.Errorf("invalid env variable %s: %w", key, err))
		}
	}

	for _, key := range required {
		if _, ok := os.LookupEnv(key); !ok {
			errs = append(errs, fmt.Errorf("env variable %s not set", key))
		}
	}

	errs = append(errs, c.validate()...)

	return c, errors.Join(errs...)
}

// validate checks combinations of values.
func (c Config) validate() []error {
	var errs []error
	missing := func(key, reason string) {
		errs = append(errs, fmt.Errorf("env variable %s is required %s", key, reason))
	}

	if c.DB.Dialect == db.Postgres && c.DB.DSN == "" {
		missing("DB_DSN", "for the postgres driver")
	}

	if _, err := c.Schedule.Trigger(); err != nil {
		errs = append(errs, fmt.Errorf("invalid env variable SCHEDULE_TIME or SCHEDULE_TIMEZONE: %w", err))
	}

	switch c.Email.Driver {
	case EmailDriverSMTP:
		if c.Email.SMTP.Username != "" && c.Email.SMTP.Password.IsZero() {
			missing("SMTP_PASSWORD", "when SMTP_USERNAME is set")
		}
	case EmailDriverPostmark:
		if c.Email.Postmark.APIURL == nil {
			missing("POSTMARK_API_URL", "for the postmark driver")
		}
		if c.Email.Postmark.ServerToken.IsZero() {
			missing("POSTMARK_SERVER_TOKEN", "for the postmark driver")
		}
	case EmailDriverMailgun:
		if c.Email.Mailgun.APIHost == "" {
			missing("MAILGUN_API_HOST", "for the mailgun driver")
		}
		if c.Email.Mailgun.Domain == "" {
			missing("MAILGUN_DOMAIN", "for the mailgun driver")
		}
	}

	return errs
}

// LoadDotenv loads variables from a .env file into the environment, without
// overriding variables that are already set. The file is DOTENV_FILE or ".env",
// a missing file is not an error.
func LoadDotenv() error {
	file := ".env"
	if v, ok := os.LookupEnv("DOTENV_FILE"); ok && v != "" {
		file = v
	}

	err := godotenv.Load(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", file, err)
	}

	return nil
}

func sortedKeys() []string {
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// confDuration attempts to parse v into tgt and checks if the result is in
// the provided range (inclusive).
func confDuration(v string, tgt *time.Duration, min, max time.Duration) error {
	dur, err := time.ParseDuration(v)
	if err != nil {
		return err
	}

	if dur < min || dur > max {
		return fmt.Errorf("duration %s not in range [%s, %s] (inclusive)", dur, min, max)
	}

	*tgt = dur

	return nil
}

// confInt attempts to parse v into tgt and checks if the result is in
// the provided range (inclusive).
func confInt(v string, tgt *int, min, max int) error {
	i, err := strconv.Atoi(v)
	if err != nil {
		return err
	}

	if i < min || i > max {
		return fmt.Errorf("%d not in range [%d, %d] (inclusive)", i, min, max)
	}

	*tgt = i

	return nil
}

func confBool(v string, tgt *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}

	*tgt = b

	return nil
}

func confString(v string, tgt *string) error {
	if v == "" {
		return errors.New("empty value")
	}

	*tgt = v

	return nil
}

func confKey(v string, tgt *krypto.Key) error {
	k, err := krypto.ParseKey(v)
	if err != nil {
		return err
	}

	*tgt = k

	return nil
}

func confURL(v string, tgt **url.URL) error {
	u, err := parseURL(v)
	if err != nil {
		return err
	}

	*tgt = u

	return nil
}

// parseURL only accepts absolute URLs.
func parseURL(v string) (*url.URL, error) {
	u, err := url.Parse(v)
	if err != nil {
		return nil, err
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url", v)
	}

	return u, nil
}
