// Copyright (C) 2021  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type fieldRun struct{}
type fieldCampaign struct{}
type fieldSubscriber struct{}
type fieldStage struct{}
type fieldBounce struct{}

// WithRun adds the run identifier of the current invocation to the context.
func WithRun(ctx context.Context, run string) context.Context {
	return context.WithValue(ctx, fieldRun{}, run)
}

// WithCampaign adds the campaign id to the context.
func WithCampaign(ctx context.Context, campaign int64) context.Context {
	return context.WithValue(ctx, fieldCampaign{}, campaign)
}

// WithSubscriber adds the subscriber id to the context.
func WithSubscriber(ctx context.Context, subscriber int64) context.Context {
	return context.WithValue(ctx, fieldSubscriber{}, subscriber)
}

// WithStage adds the processing stage to the context.
func WithStage(ctx context.Context, stage int) context.Context {
	return context.WithValue(ctx, fieldStage{}, stage)
}

// WithBounce adds the bounce id to the context.
func WithBounce(ctx context.Context, bounce int64) context.Context {
	return context.WithValue(ctx, fieldBounce{}, bounce)
}

// appendContextFields adds defined fields in the context to the log event.
func appendContextFields(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	if run, ok := ctx.Value(fieldRun{}).(string); ok {
		event.Str("run", run)
	}

	if campaign, ok := ctx.Value(fieldCampaign{}).(int64); ok {
		event.Int64("campaign", campaign)
	}

	if subscriber, ok := ctx.Value(fieldSubscriber{}).(int64); ok {
		event.Int64("subscriber", subscriber)
	}

	if stage, ok := ctx.Value(fieldStage{}).(int); ok {
		event.Int("stage", stage)
	}

	if bounce, ok := ctx.Value(fieldBounce{}).(int64); ok {
		event.Int64("bounce", bounce)
	}

	return event
}
