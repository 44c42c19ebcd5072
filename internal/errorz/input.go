package errorz

import (
	"sort"
	"strings"
)

// Keyed attaches the name of the offending field to an error.
type Keyed struct {
	Key string
	Err error
}

func (k Keyed) Error() string {
	return k.Key + ": " + k.Err.Error()
}

func (k Keyed) Unwrap() error {
	return k.Err
}

// InvalidInput collects every problem found in a single input, so callers
// can report them all at once instead of one per attempt.
type InvalidInput []error

func (e InvalidInput) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

func (e InvalidInput) Unwrap() []error {
	return e
}

// Keys returns the sorted, distinct keys of the Keyed errors in e.
func (e InvalidInput) Keys() []string {
	seen := make(map[string]struct{}, len(e))
	keys := make([]string, 0, len(e))
	for _, err := range e {
		k, ok := err.(Keyed)
		if !ok {
			continue
		}
		if _, dup := seen[k.Key]; dup {
			continue
		}
		seen[k.Key] = struct{}{}
		keys = append(keys, k.Key)
	}
	sort.Strings(keys)
	return keys
}
