// Package testerr helps tests inject failures into dependencies.
package testerr

import "errors"

// Err is the error returned by failing dependencies when no other error is configured.
var Err = errors.New("test error")

// Calltracker tracks the calls made to a dependency and decides which of them fail.
// The zero value never fails. A Calltracker is not safe for concurrent use.
type Calltracker struct {
	CallIndex         int
	ShouldFail        bool
	Err               error
	FailAllAfterIndex bool
	FailAtIndex       int
}

// NewFailingDeps creates two trackers per expected call:
// - one that fails only at that call.
// - one that fails at that call and every call after it.
func NewFailingDeps(err error, expectCalls int) []Calltracker {
	trackers := make([]Calltracker, 0, expectCalls*2)
	for i := 0; i < expectCalls; i++ {
		for _, failAfter := range []bool{true, false} {
			trackers = append(trackers, Calltracker{
				CallIndex:         -1,
				ShouldFail:        true,
				Err:               err,
				FailAllAfterIndex: failAfter,
				FailAtIndex:       i,
			})
		}
	}

	return trackers
}

// next registers a call and reports whether it should fail.
func (ct *Calltracker) next() bool {
	if !ct.ShouldFail {
		return false
	}

	ct.CallIndex++
	if ct.CallIndex == ct.FailAtIndex {
		return true
	}

	return ct.FailAllAfterIndex && ct.CallIndex > ct.FailAtIndex
}

func (ct *Calltracker) err() error {
	if ct.Err == nil {
		return Err
	}
	return ct.Err
}

// MaybeFailErrFunc either returns the tracker error or the result of f.
func MaybeFailErrFunc(ct *Calltracker, f func() error) error {
	if ct.next() {
		return ct.err()
	}
	return f()
}

// MaybeFail either returns the tracker error or the result of f.
func MaybeFail[T any](ct *Calltracker, f func() (T, error)) (T, error) {
	if ct.next() {
		var zero T
		return zero, ct.err()
	}
	return f()
}
