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
	"errors"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/locking"
	"github.com/lukasdietrich/rundbrief/internal/log"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

func init() {
	viper.SetDefault("bounce.threshold.unsubscribe", 5)
	viper.SetDefault("bounce.threshold.blacklist", 20)
}

// ErrLockLost means another process preempted the lock while the scan was running.
var ErrLockLost = errors.New("bounce: process lock lost")

// Detector finds subscribers whose recent sends bounced consecutively. A single clean send
// breaks the streak.
type Detector struct {
	conn          database.Conn
	subscriberDao database.SubscriberDao
	statusDao     database.DeliveryStatusDao
	eventDao      database.SubscriberEventDao
	locker        *locking.Locker

	unsubscribeThreshold int
	blacklistThreshold   int
	clock                func() time.Time
}

// NewDetector creates a new Detector using the configuration from viper.
//
// `bounce.threshold.unsubscribe` is the streak length at which a subscriber is unconfirmed.
// `bounce.threshold.blacklist` is the longer streak at which they are blacklisted.
func NewDetector(
	conn database.Conn,
	subscriberDao database.SubscriberDao,
	statusDao database.DeliveryStatusDao,
	eventDao database.SubscriberEventDao,
	locker *locking.Locker,
) *Detector {
	return &Detector{
		conn:          conn,
		subscriberDao: subscriberDao,
		statusDao:     statusDao,
		eventDao:      eventDao,
		locker:        locker,

		unsubscribeThreshold: viper.GetInt("bounce.threshold.unsubscribe"),
		blacklistThreshold:   viper.GetInt("bounce.threshold.blacklist"),
		clock:                time.Now,
	}
}

// Scan walks the send history of every confirmed subscriber with at least one bounce and
// applies the threshold actions. The scan aborts with ErrLockLost if the process lock is
// preempted mid-run.
func (d *Detector) Scan(ctx context.Context, lock *locking.Lock) error {
	ids, err := d.subscriberDao.FindConfirmedWithBounces(ctx, d.conn)
	if err != nil {
		return err
	}

	log.DebugContext(ctx).
		Int("subscribers", len(ids)).
		Msg("scanning subscribers for consecutive bounces")

	for _, id := range ids {
		alive, err := d.locker.IsAlive(ctx, lock)
		if err != nil {
			return err
		}

		if !alive {
			return ErrLockLost
		}

		if err := d.scanSubscriber(log.WithSubscriber(ctx, id), id); err != nil {
			return err
		}
	}

	return nil
}

// scanSubscriber counts the bounce streak over the sent rows newest-first. The unsubscribe
// action fires exactly once per scan, further bounces beyond the threshold do not re-fire
// it.
func (d *Detector) scanSubscriber(ctx context.Context, subscriberID int64) error {
	history, err := d.statusDao.FindSendHistory(ctx, d.conn, subscriberID)
	if err != nil {
		return err
	}

	var (
		consecutive int
		unconfirmed bool
	)

	for _, row := range history {
		if !row.BounceID.Valid {
			// A clean send breaks the streak, nothing older matters.
			break
		}

		consecutive++

		if consecutive >= d.unsubscribeThreshold && !unconfirmed {
			if err := d.unconfirm(ctx, subscriberID, consecutive); err != nil {
				return err
			}

			unconfirmed = true
		}

		if consecutive >= d.blacklistThreshold {
			return d.blacklist(ctx, subscriberID, consecutive)
		}
	}

	return nil
}

func (d *Detector) unconfirm(ctx context.Context, subscriberID int64, streak int) error {
	subscriber, err := d.subscriberDao.FindByID(ctx, d.conn, subscriberID)
	if err != nil {
		return err
	}

	if !subscriber.Confirmed {
		return nil
	}

	log.InfoContext(ctx).
		Int("streak", streak).
		Msg("unconfirming subscriber after consecutive bounces")

	subscriber.Confirmed = false
	if err := d.subscriberDao.Update(ctx, d.conn, subscriber); err != nil {
		return err
	}

	event := models.SubscriberEventEntity{
		SubscriberID: subscriberID,
		OccurredAt:   d.clock().Unix(),
		Summary:      "unconfirmed due to consecutive bounces",
	}

	return d.eventDao.Insert(ctx, d.conn, &event)
}

func (d *Detector) blacklist(ctx context.Context, subscriberID int64, streak int) error {
	subscriber, err := d.subscriberDao.FindByID(ctx, d.conn, subscriberID)
	if err != nil {
		return err
	}

	if subscriber.Blacklisted {
		return nil
	}

	log.WarnContext(ctx).
		Int("streak", streak).
		Msg("blacklisting subscriber after consecutive bounces")

	subscriber.Blacklisted = true
	if err := d.subscriberDao.Update(ctx, d.conn, subscriber); err != nil {
		return err
	}

	event := models.SubscriberEventEntity{
		SubscriberID: subscriberID,
		OccurredAt:   d.clock().Unix(),
		Summary:      "blacklisted due to consecutive bounces",
	}

	return d.eventDao.Insert(ctx, d.conn, &event)
}
