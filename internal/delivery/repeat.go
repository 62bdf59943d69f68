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

package delivery

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/log"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

func init() {
	viper.SetDefault("delivery.repeat.excludeweekdays", []string{})
}

// weekdaySkipLimit caps how often a follow up embargo is pushed to dodge excluded weekdays
// before giving up and keeping the last candidate.
const weekdaySkipLimit = 15

// Scheduler plans follow up deliveries of finished campaigns. A repeating campaign is cloned
// into a fresh submitted campaign, a requeued campaign is reset in place. Delivery status rows
// of the original sends are kept, so a requeue only ever reaches subscribers, that joined
// after the previous round.
type Scheduler struct {
	campaignDao database.CampaignDao
	clock       func() time.Time
	excluded    map[time.Weekday]bool
}

// NewScheduler creates a new Scheduler using the configuration from viper.
//
// `delivery.repeat.excludeweekdays` lists weekday names follow ups must not fall on.
func NewScheduler(campaignDao database.CampaignDao) *Scheduler {
	return &Scheduler{
		campaignDao: campaignDao,
		clock:       time.Now,
		excluded:    parseExcludedWeekdays(viper.GetStringSlice("delivery.repeat.excludeweekdays")),
	}
}

var weekdaysByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseExcludedWeekdays(names []string) map[time.Weekday]bool {
	excluded := make(map[time.Weekday]bool)

	for _, name := range names {
		weekday, ok := weekdaysByName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			log.Warn().
				Str("weekday", name).
				Msg("ignoring unknown weekday in excludeweekdays")

			continue
		}

		excluded[weekday] = true
	}

	return excluded
}

// ScheduleFollowups plans the repeat and requeue follow ups of a just finished campaign, if
// it is configured for either.
func (s *Scheduler) ScheduleFollowups(
	ctx context.Context,
	q database.Queryer,
	campaign *models.CampaignEntity,
) error {
	if err := s.scheduleRepeat(ctx, q, campaign); err != nil {
		return err
	}

	return s.scheduleRequeue(ctx, q, campaign)
}

func (s *Scheduler) scheduleRepeat(
	ctx context.Context,
	q database.Queryer,
	campaign *models.CampaignEntity,
) error {
	if campaign.RepeatInterval <= 0 || !campaign.RepeatUntil.Valid {
		return nil
	}

	embargo := s.nextEmbargo(campaign.Embargo, campaign.RepeatInterval)
	if embargo > campaign.RepeatUntil.Int64 {
		log.DebugContext(ctx).
			Int64("embargo", embargo).
			Int64("until", campaign.RepeatUntil.Int64).
			Msg("repeat period is over")

		return nil
	}

	clone := models.CampaignEntity{
		Subject:         campaign.Subject,
		Body:            campaign.Body,
		Status:          models.CampaignSubmitted,
		Embargo:         sql.NullInt64{Valid: true, Int64: embargo},
		FinishSendingBy: shiftDeadline(campaign, embargo),
		RepeatUntil:     campaign.RepeatUntil,
		RepeatInterval:  campaign.RepeatInterval,
		SelectionQuery:  campaign.SelectionQuery,
		NotifyStart:     campaign.NotifyStart,
		NotifyEnd:       campaign.NotifyEnd,
	}

	if err := s.campaignDao.Insert(ctx, q, &clone); err != nil {
		return err
	}

	log.InfoContext(ctx).
		Int64("followup", clone.ID).
		Int64("embargo", embargo).
		Msg("scheduled repeated campaign")

	return nil
}

func (s *Scheduler) scheduleRequeue(
	ctx context.Context,
	q database.Queryer,
	campaign *models.CampaignEntity,
) error {
	if campaign.RequeueInterval <= 0 || !campaign.RequeueUntil.Valid {
		return nil
	}

	embargo := s.nextEmbargo(campaign.Embargo, campaign.RequeueInterval)
	if embargo > campaign.RequeueUntil.Int64 {
		log.DebugContext(ctx).
			Int64("embargo", embargo).
			Int64("until", campaign.RequeueUntil.Int64).
			Msg("requeue period is over")

		return nil
	}

	campaign.Status = models.CampaignSubmitted
	campaign.Embargo = sql.NullInt64{Valid: true, Int64: embargo}

	if err := s.campaignDao.Update(ctx, q, campaign); err != nil {
		return err
	}

	log.InfoContext(ctx).
		Int64("embargo", embargo).
		Msg("requeued campaign")

	return nil
}

// nextEmbargo steps interval-wise from the previous embargo to the first time in the future,
// that does not fall on an excluded weekday.
func (s *Scheduler) nextEmbargo(previous sql.NullInt64, interval int64) int64 {
	now := s.clock().Unix()

	next := now
	if previous.Valid {
		next = previous.Int64
	}

	next += interval
	for next <= now {
		next += interval
	}

	for attempt := 0; s.excluded[time.Unix(next, 0).UTC().Weekday()]; attempt++ {
		if attempt >= weekdaySkipLimit {
			log.Warn().
				Int64("embargo", next).
				Msg("could not avoid excluded weekdays, keeping embargo")

			break
		}

		next += interval
	}

	return next
}

// shiftDeadline moves the sending deadline of the original campaign by the same amount as
// its embargo.
func shiftDeadline(campaign *models.CampaignEntity, embargo int64) sql.NullInt64 {
	if !campaign.FinishSendingBy.Valid || !campaign.Embargo.Valid {
		return sql.NullInt64{}
	}

	return sql.NullInt64{
		Valid: true,
		Int64: campaign.FinishSendingBy.Int64 + (embargo - campaign.Embargo.Int64),
	}
}
