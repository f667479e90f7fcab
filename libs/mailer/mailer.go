// Package mailer sends outbound mail through a pluggable provider.
package mailer

import (
	"context"
	"errors"
	"strings"
)

var ErrNoRecipients = errors.New("mailer: message has no recipients")

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename string
	Content  []byte
}

type Message struct {
	From        string
	To          []string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

type SendResult struct {
	ProviderMessageID string
}

// Provider delivers a fully addressed message.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (SendResult, error)
}

type Mailer struct {
	provider    Provider
	fromAddress string
}

func New(provider Provider, fromAddress string) *Mailer {
	return &Mailer{
		provider:    provider,
		fromAddress: fromAddress,
	}
}

// Send fills in the default sender and drops blank recipients before handing
// msg to the provider.
func (m *Mailer) Send(ctx context.Context, msg Message) (SendResult, error) {
	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		if to = strings.TrimSpace(to); to != "" {
			recipients = append(recipients, to)
		}
	}
	if len(recipients) == 0 {
		return SendResult{}, ErrNoRecipients
	}
	msg.To = recipients
	if msg.From == "" {
		msg.From = m.fromAddress
	}
	return m.provider.Send(ctx, msg)
}

func (m *Mailer) ProviderName() string {
	return m.provider.Name()
}

// SplitRecipients parses a comma separated address list.
func SplitRecipients(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
