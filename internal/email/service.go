package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TemplateElement identifies a part of an email template.
type TemplateElement string

const (
	ElementSubject TemplateElement = "subject"
	ElementBody    TemplateElement = "body"
	// ElementHTML is optional, templates without it result in text only messages.
	ElementHTML TemplateElement = "html"
)

// ErrMissingElement is returned by renderers when a template lacks an element.
var ErrMissingElement = errors.New("missing template element")

// Message is a rendered email.
type Message struct {
	Subject  string
	TextBody string
	// HTMLBody is empty for text only messages.
	HTMLBody string
}

// Renderer renders an element of a named email template.
type Renderer interface {
	Render(w io.Writer, name string, element TemplateElement, data any) error
}

// Sender delivers a single message. Send blocks until the message was
// handed off or ctx is done.
type Sender interface {
	Send(ctx context.Context, from, recipient Address, msg Message) error
}

// Service renders templated emails and sends them from a fixed address.
type Service struct {
	renderer Renderer
	sender   Sender
	from     Address
}

func NewService(renderer Renderer, sender Sender, from Address) *Service {
	return &Service{
		renderer: renderer,
		sender:   sender,
		from:     from,
	}
}

// Render renders the template called name with data.
func (s *Service) Render(ctx context.Context, name string, data any) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	var (
		msg Message
		buf bytes.Buffer
	)

	err := s.renderer.Render(&buf, name, ElementSubject, data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to render subject of %s: %w", name, err)
	}
	// headers can't contain newlines.
	msg.Subject = strings.Join(strings.Fields(buf.String()), " ")

	buf.Reset()
	err = s.renderer.Render(&buf, name, ElementBody, data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to render body of %s: %w", name, err)
	}
	msg.TextBody = strings.TrimSpace(buf.String())

	buf.Reset()
	err = s.renderer.Render(&buf, name, ElementHTML, data)
	switch {
	case errors.Is(err, ErrMissingElement):
	case err != nil:
		return Message{}, fmt.Errorf("failed to render html of %s: %w", name, err)
	default:
		msg.HTMLBody = buf.String()
	}

	return msg, nil
}

// Send sends msg to recipient.
func (s *Service) Send(ctx context.Context, recipient Address, msg Message) error {
	return s.sender.Send(ctx, s.from, recipient, msg)
}

// SendTemplate renders and sends in one go.
func (s *Service) SendTemplate(ctx context.Context, name string, recipient Address, data any) error {
	msg, err := s.Render(ctx, name, data)
	if err != nil {
		return err
	}

	return s.Send(ctx, recipient, msg)
}
