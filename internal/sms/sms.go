// Package sms abstracts outbound SMS delivery. The production gateway is an
// external collaborator; the console sender stands in for it in development
// and tests.
package sms

import (
	"context"

	"vidyahub.org/internal/obs"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// ConsoleSender logs messages instead of delivering them.
type ConsoleSender struct{}

func (ConsoleSender) Send(_ context.Context, phone, message string) error {
	obs.LogEvent("info", "sms_send", map[string]any{
		"phone":   mask(phone),
		"message": message,
	})
	return nil
}

// mask hides all but the last four digits so full numbers stay out of logs.
func mask(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	masked := make([]byte, len(phone)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked) + phone[len(phone)-4:]
}
