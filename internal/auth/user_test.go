package auth_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/errorz"
)

func Test_ParseUsername(t *testing.T) {
	okTests := map[string]struct {
		raw  string
		want auth.Username
	}{
		"ok, shortest":         {raw: "abc", want: "abc"},
		"ok, lowercased":       {raw: "Alice_01", want: "alice_01"},
		"ok, trimmed":          {raw: "  bob.smith ", want: "bob.smith"},
		"ok, dashes and digit": {raw: "x-1-y", want: "x-1-y"},
	}

	for name, tc := range okTests {
		t.Run(name, func(t *testing.T) {
			got, err := auth.ParseUsername(tc.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}

	failTests := map[string]string{
		"fail, empty":     "",
		"fail, too short": "ab",
		"fail, too long":  "abcdefghijklmnopqrstuvwxyz0123456",
		"fail, space":     "al ice",
		"fail, at sign":   "alice@example.com",
	}

	for name, raw := range failTests {
		t.Run(name, func(t *testing.T) {
			_, err := auth.ParseUsername(raw)
			if !errors.Is(err, auth.ErrInvalidUsername) {
				t.Fatalf("wanted %v, got %v (via errors.Is)", auth.ErrInvalidUsername, err)
			}
		})
	}
}

func Test_ParseFavorites(t *testing.T) {
	okTests := map[string]struct {
		raw  string
		want auth.Favorites
	}{
		"ok, empty":                 {raw: "", want: auth.Favorites{}},
		"ok, normalized and sorted": {raw: " msft, aapl ,Tsla", want: auth.Favorites{"AAPL", "MSFT", "TSLA"}},
		"ok, duplicates removed":    {raw: "AAPL,aapl, AAPL", want: auth.Favorites{"AAPL"}},
		"ok, class shares":          {raw: "BRK.B,BF-B", want: auth.Favorites{"BF-B", "BRK.B"}},
		"ok, empty entries skipped": {raw: "AAPL,,MSFT,", want: auth.Favorites{"AAPL", "MSFT"}},
		"ok, exactly ten":           {raw: "A,B,C,D,E,F,G,H,I,J", want: auth.Favorites{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}},
	}

	for name, tc := range okTests {
		t.Run(name, func(t *testing.T) {
			got, err := auth.ParseFavorites(tc.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}

	t.Run("fail, invalid symbols are all reported", func(t *testing.T) {
		_, err := auth.ParseFavorites("AAPL, 1BAD, $$$")

		var invalid errorz.InvalidInput
		if !errors.As(err, &invalid) {
			t.Fatalf("wanted %T, got %v", invalid, err)
		}

		if len(invalid) != 2 {
			t.Errorf("wanted 2 invalid symbols, got %d: %v", len(invalid), invalid)
		}

		if !errors.Is(err, auth.ErrInvalidSymbol) {
			t.Errorf("wanted %v via errors.Is, got %v", auth.ErrInvalidSymbol, err)
		}
	})

	t.Run("fail, too many", func(t *testing.T) {
		_, err := auth.ParseFavorites("A,B,C,D,E,F,G,H,I,J,K")
		if !errors.Is(err, auth.ErrTooManyFavorites) {
			t.Fatalf("wanted %v, got %v (via errors.Is)", auth.ErrTooManyFavorites, err)
		}
	})
}
