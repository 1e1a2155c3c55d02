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

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Flow records protocol outcomes the HTTP middleware cannot see: which
// grant types complete, which fail and why, and how long exchanges
// take. All methods are safe on a nil receiver so callers need no
// enabled-check of their own.
type Flow struct {
	grants      metric.Int64Counter
	rejections  metric.Int64Counter
	revocations metric.Int64Counter
	exchange    metric.Float64Histogram
}

// NewFlow creates the instrument set on the global meter provider.
// Without an installed SDK provider the instruments are no-ops.
func NewFlow(service string) (*Flow, error) {
	m := otel.Meter(service)

	grants, err := m.Int64Counter("veridian.grants.issued",
		metric.WithDescription("Token grants completed, by grant type"))
	if err != nil {
		return nil, fmt.Errorf("grants counter: %w", err)
	}

	rejections, err := m.Int64Counter("veridian.grants.rejected",
		metric.WithDescription("Token grants rejected, by grant type and error code"))
	if err != nil {
		return nil, fmt.Errorf("rejections counter: %w", err)
	}

	revocations, err := m.Int64Counter("veridian.tokens.revoked",
		metric.WithDescription("Access tokens placed on the revocation list"))
	if err != nil {
		return nil, fmt.Errorf("revocations counter: %w", err)
	}

	exchange, err := m.Float64Histogram("veridian.exchange.duration",
		metric.WithDescription("Wall time of token endpoint exchanges"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("exchange histogram: %w", err)
	}

	return &Flow{
		grants:      grants,
		rejections:  rejections,
		revocations: revocations,
		exchange:    exchange,
	}, nil
}

// GrantIssued counts a completed grant.
func (f *Flow) GrantIssued(ctx context.Context, grantType string) {
	if f == nil {
		return
	}
	f.grants.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
	))
}

// GrantRejected counts a failed grant with its protocol error code.
func (f *Flow) GrantRejected(ctx context.Context, grantType, errorCode string) {
	if f == nil {
		return
	}
	f.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("error_code", errorCode),
	))
}

// TokenRevoked counts a blacklist insertion.
func (f *Flow) TokenRevoked(ctx context.Context) {
	if f == nil {
		return
	}
	f.revocations.Add(ctx, 1)
}

// ExchangeTook records how long a token endpoint exchange ran.
func (f *Flow) ExchangeTook(ctx context.Context, grantType string, d time.Duration) {
	if f == nil {
		return
	}
	f.exchange.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("grant_type", grantType),
	))
}
