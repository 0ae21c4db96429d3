// Package notify provides notification functionality for the domain watcher application
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
)

// ErrDelivery wraps every failed send
var ErrDelivery = errors.New("notification delivery failed")

// Notifier delivers a message to the operator
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// New builds the notifier for every configured channel. Without any channel,
// messages are only logged.
func New(cfg *config.Config, log *logger.Logger) (Notifier, error) {
	var channels []Notifier

	if cfg.TelegramToken != "" {
		tg, err := NewTelegram(cfg, log)
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}
	if cfg.SMTPHost != "" && cfg.EmailFrom != "" && cfg.EmailTo != "" {
		channels = append(channels, NewEmail(cfg, log))
	}

	switch len(channels) {
	case 0:
		log.Warnf("No notification channel configured, notifications are only logged")
		return NewLog(log), nil
	case 1:
		return channels[0], nil
	default:
		return NewMulti(log, channels...), nil
	}
}

// Log writes messages to the log instead of delivering them
type Log struct {
	log *logger.Logger
}

// NewLog creates a log-only notifier
func NewLog(log *logger.Logger) *Log {
	return &Log{log: log}
}

// Send logs the message
func (l *Log) Send(_ context.Context, text string) error {
	l.log.Infof("Notification:\n%s", text)
	return nil
}

// Multi sends every message to all channels
type Multi struct {
	log      *logger.Logger
	channels []Notifier
}

// NewMulti creates a fan-out notifier
func NewMulti(log *logger.Logger, channels ...Notifier) *Multi {
	return &Multi{log: log, channels: channels}
}

// Send tries every channel and succeeds once one of them delivered. A message that
// reached the operator is never repeated for the channels that failed, their errors
// are only logged.
func (m *Multi) Send(ctx context.Context, text string) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	err := errors.Join(errs...)
	if len(errs) < len(m.channels) {
		m.log.Warnf("Notification delivered on %d of %d channels: %v",
			len(m.channels)-len(errs), len(m.channels), err)
		return nil
	}
	if !errors.Is(err, ErrDelivery) {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return err
}

// sendContext runs a blocking send and gives up when ctx ends first
func sendContext(ctx context.Context, send func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- send()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
