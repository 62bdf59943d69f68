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

package bounce

import (
	"context"
	"fmt"
	"time"

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/log"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

// Executor applies the action of a matched bounce rule. Every execution is logged with the
// rule, subscriber and bounce involved, so automatic state changes stay auditable.
type Executor struct {
	conn          database.Conn
	subscriberDao database.SubscriberDao
	bounceDao     database.BounceDao
	ruleDao       database.BounceRuleDao
	eventDao      database.SubscriberEventDao
	clock         func() time.Time
}

// NewExecutor creates a new Executor.
func NewExecutor(
	conn database.Conn,
	subscriberDao database.SubscriberDao,
	bounceDao database.BounceDao,
	ruleDao database.BounceRuleDao,
	eventDao database.SubscriberEventDao,
) *Executor {
	return &Executor{
		conn:          conn,
		subscriberDao: subscriberDao,
		bounceDao:     bounceDao,
		ruleDao:       ruleDao,
		eventDao:      eventDao,
		clock:         time.Now,
	}
}

// Execute applies the rule action to the subscriber and bounce. The subscriber may be nil
// when the bounce could not be attributed, in which case subscriber effects are skipped.
// It reports whether the bounce row was deleted.
func (e *Executor) Execute(
	ctx context.Context,
	rule *models.BounceRuleEntity,
	subscriber *models.SubscriberEntity,
	bounce *models.BounceEntity,
) (bounceDeleted bool, err error) {
	event := log.InfoContext(ctx).
		Int64("rule", rule.ID).
		Str("action", string(rule.Action))
	if subscriber != nil {
		event = event.Int64("subscriber", subscriber.ID)
	}
	event.Msg("executing bounce rule")

	if err := e.ruleDao.IncrementMatchCount(ctx, e.conn, rule.ID); err != nil {
		return false, err
	}

	switch rule.Action {
	case models.ActionDeleteSubscriber:
		return false, e.deleteSubscriber(ctx, rule, subscriber)

	case models.ActionUnconfirmSubscriber:
		return false, e.unconfirmSubscriber(ctx, rule, subscriber)

	case models.ActionBlacklistSubscriber:
		return false, e.blacklistSubscriber(ctx, rule, subscriber)

	case models.ActionDeleteBounce:
		return true, e.bounceDao.Delete(ctx, e.conn, bounce.ID)

	case models.ActionDeleteSubscriberAndBounce:
		if err := e.deleteSubscriber(ctx, rule, subscriber); err != nil {
			return false, err
		}

		return true, e.bounceDao.Delete(ctx, e.conn, bounce.ID)

	case models.ActionUnconfirmSubscriberAndDeleteBounce:
		if err := e.unconfirmSubscriber(ctx, rule, subscriber); err != nil {
			return false, err
		}

		return true, e.bounceDao.Delete(ctx, e.conn, bounce.ID)

	case models.ActionBlacklistSubscriberAndDeleteBounce:
		if err := e.blacklistSubscriber(ctx, rule, subscriber); err != nil {
			return false, err
		}

		return true, e.bounceDao.Delete(ctx, e.conn, bounce.ID)
	}

	log.WarnContext(ctx).
		Int64("rule", rule.ID).
		Str("action", string(rule.Action)).
		Msg("rule has an unknown action, skipping")

	return false, nil
}

func (e *Executor) deleteSubscriber(
	ctx context.Context,
	rule *models.BounceRuleEntity,
	subscriber *models.SubscriberEntity,
) error {
	if subscriber == nil {
		e.warnNoSubscriber(ctx, rule)
		return nil
	}

	return e.subscriberDao.Delete(ctx, e.conn, subscriber.ID)
}

func (e *Executor) unconfirmSubscriber(
	ctx context.Context,
	rule *models.BounceRuleEntity,
	subscriber *models.SubscriberEntity,
) error {
	if subscriber == nil {
		e.warnNoSubscriber(ctx, rule)
		return nil
	}

	if !subscriber.Confirmed {
		return nil
	}

	subscriber.Confirmed = false
	if err := e.subscriberDao.Update(ctx, e.conn, subscriber); err != nil {
		return err
	}

	return e.recordEvent(ctx, subscriber, "unconfirmed by bounce rule", rule)
}

func (e *Executor) blacklistSubscriber(
	ctx context.Context,
	rule *models.BounceRuleEntity,
	subscriber *models.SubscriberEntity,
) error {
	if subscriber == nil {
		e.warnNoSubscriber(ctx, rule)
		return nil
	}

	if subscriber.Blacklisted {
		return nil
	}

	subscriber.Blacklisted = true
	if err := e.subscriberDao.Update(ctx, e.conn, subscriber); err != nil {
		return err
	}

	return e.recordEvent(ctx, subscriber, "blacklisted by bounce rule", rule)
}

func (e *Executor) recordEvent(
	ctx context.Context,
	subscriber *models.SubscriberEntity,
	summary string,
	rule *models.BounceRuleEntity,
) error {
	event := models.SubscriberEventEntity{
		SubscriberID: subscriber.ID,
		OccurredAt:   e.clock().Unix(),
		Summary:      summary,
		Detail:       fmt.Sprintf("rule %d: %s", rule.ID, rule.Regex),
	}

	return e.eventDao.Insert(ctx, e.conn, &event)
}

func (e *Executor) warnNoSubscriber(ctx context.Context, rule *models.BounceRuleEntity) {
	log.WarnContext(ctx).
		Int64("rule", rule.ID).
		Msg("rule has a subscriber effect, but the bounce is not attributed")
}
