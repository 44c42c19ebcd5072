package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/willemschots/stockdigest/internal/auth"
	"github.com/willemschots/stockdigest/internal/email"
)

// Status is the result of dispatching to a single recipient.
type Status string

const (
	StatusSent         Status = "sent"
	StatusRenderFailed Status = "render_failed"
	StatusSendFailed   Status = "send_failed"
	// StatusSkipped is only used for recipients that were not started
	// before the run was cancelled.
	StatusSkipped Status = "skipped"
)

// Outcome records what happened for one recipient.
type Outcome struct {
	UserID   uuid.UUID      `json:"userID"`
	Email    email.Address  `json:"email"`
	Symbols  auth.Favorites `json:"symbols"`
	Status   Status         `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Summary counts outcomes per status.
type Summary struct {
	Total        int `json:"total"`
	Sent         int `json:"sent"`
	RenderFailed int `json:"renderFailed"`
	SendFailed   int `json:"sendFailed"`
	Skipped      int `json:"skipped"`
}

// Failed is the number of recipients that were started but did not receive the digest.
func (s Summary) Failed() int {
	return s.RenderFailed + s.SendFailed
}

// SuccessRate is the percentage of recipients that were sent the digest.
// A run without recipients has a success rate of 0.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Sent) / float64(s.Total) * 100
}

// Summarize counts the outcomes.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSent:
			s.Sent++
		case StatusRenderFailed:
			s.RenderFailed++
		case StatusSendFailed:
			s.SendFailed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// Run is a single execution of the dispatch job. Outcomes are in subscriber order.
// A Run is immutable once it has been appended to a RunLog.
type Run struct {
	ID          uuid.UUID `json:"id"`
	TriggeredAt time.Time `json:"triggeredAt"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Manual      bool      `json:"manual"`
	Outcomes    []Outcome `json:"outcomes"`
	Summary     Summary   `json:"summary"`
}
