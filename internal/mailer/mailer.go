// Copyright 2026 The Veridian Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mailer delivers transactional mail. Delivery runs behind a
// queue so a slow provider never stalls a registration request; the log
// backend stands in for a real provider in development.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned when the outgoing queue cannot accept another
// message. Callers treat it like any other delivery failure.
var ErrQueueFull = errors.New("mail queue is full")

// deliveryTimeout bounds a single backend send. Queued mail outlives the
// request that produced it, so the request context cannot be used here.
const deliveryTimeout = 30 * time.Second

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, subject, body, to string) error
}

// LogMailer writes mail to the structured log instead of a delivery
// provider. The body appears in the log line, which is the point: it is
// the development equivalent of reading the mailbox.
type LogMailer struct{}

// NewLogMailer creates a mailer that logs instead of sending.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// Send logs the message
func (m *LogMailer) Send(ctx context.Context, subject, body, to string) error {
	slog.InfoContext(ctx, "outgoing mail",
		slog.String("component", "mailer"),
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}

type message struct {
	subject string
	body    string
	to      string
}

// AsyncMailer queues messages and delivers them on a background worker.
// Send only fails when the queue is full; delivery failures are logged
// and dropped, matching the fire-and-forget contract of transactional
// mail (the user can always request a resend).
type AsyncMailer struct {
	backend Mailer
	queue   chan message

	wg   sync.WaitGroup
	once sync.Once
}

// NewAsyncMailer wraps a backend with a buffered queue of the given size
// and starts the delivery worker.
func NewAsyncMailer(backend Mailer, queueSize int) *AsyncMailer {
	if queueSize <= 0 {
		queueSize = 64
	}
	m := &AsyncMailer{
		backend: backend,
		queue:   make(chan message, queueSize),
	}

	m.wg.Add(1)
	go m.deliver()

	return m
}

// Send enqueues the message for background delivery. It never blocks;
// a full queue returns ErrQueueFull.
func (m *AsyncMailer) Send(ctx context.Context, subject, body, to string) error {
	select {
	case m.queue <- message{subject: subject, body: body, to: to}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting mail and waits until the queue has drained.
func (m *AsyncMailer) Close() {
	m.once.Do(func() {
		close(m.queue)
	})
	m.wg.Wait()
}

// deliver drains the queue. Each send gets its own deadline detached
// from the producing request.
func (m *AsyncMailer) deliver() {
	defer m.wg.Done()

	for msg := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := m.backend.Send(ctx, msg.subject, msg.body, msg.to)
		cancel()

		if err != nil {
			slog.Error("mail delivery failed",
				slog.String("component", "mailer"),
				slog.String("to", msg.to),
				slog.String("subject", msg.subject),
				slog.String("error", err.Error()),
			)
		}
	}
}

// VerificationSender composes account verification mail and hands it to
// a Mailer. It implements identity.VerificationMailer.
type VerificationSender struct {
	mailer  Mailer
	baseURL string
}

// NewVerificationSender creates a verification mail composer. baseURL is
// the public issuer URL used to build links.
func NewVerificationSender(mailer Mailer, baseURL string) *VerificationSender {
	return &VerificationSender{mailer: mailer, baseURL: baseURL}
}

// SendVerificationEmail mails the verification link for the address
func (s *VerificationSender) SendVerificationEmail(ctx context.Context, to, token string) error {
	verifyURL := fmt.Sprintf("%s/verify-email/%s", s.baseURL, token)

	subject := "Verify your email address"
	body := fmt.Sprintf(
		"Hello,\n\nPlease confirm your email address by opening the link below:\n\n%s\n\nIf you did not create this account, you can ignore this message.\n",
		verifyURL,
	)

	return s.mailer.Send(ctx, subject, body, to)
}
