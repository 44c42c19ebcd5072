package internal_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/willemschots/stockdigest/internal"
)

func Test_Build(t *testing.T) {
	t.Run("ok, version", func(t *testing.T) {
		tests := map[string]struct {
			b    internal.Build
			want string
		}{
			"ok, clean":    {b: internal.Build{Revision: "abc123"}, want: "abc123"},
			"ok, modified": {b: internal.Build{Revision: "abc123", Modified: true}, want: "abc123-dirty"},
		}

		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				if got := tc.b.Version(); got != tc.want {
					t.Errorf("got %q, want %q", got, tc.want)
				}
			})
		}
	})

	t.Run("ok, logged as group", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		logger.Info("start", "build", internal.Build{Revision: "abc123", GoVersion: "go1.22.0"})

		got := buf.String()
		for _, want := range []string{"build.revision=abc123", "build.modified=false", "build.go=go1.22.0"} {
			if !strings.Contains(got, want) {
				t.Errorf("expected %q in %q", want, got)
			}
		}
	})

	t.Run("ok, has a revision", func(t *testing.T) {
		if internal.BuildInfo.Revision == "" {
			t.Errorf("expected a revision, got an empty string")
		}
	})
}
