package email

import (
	"context"
	"sync"
)

// SentEmail is an email captured by a MemorySender.
type SentEmail struct {
	From      Address
	Recipient Address
	Message   Message
}

// MemorySender keeps sent emails in memory. It is safe for concurrent use.
type MemorySender struct {
	mu     sync.Mutex
	emails []SentEmail
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(_ context.Context, from, recipient Address, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emails = append(s.emails, SentEmail{
		From:      from,
		Recipient: recipient,
		Message:   msg,
	})
	return nil
}

// Emails returns a copy of the sent emails, in the order they were sent.
func (s *MemorySender) Emails() []SentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SentEmail(nil), s.emails...)
}
