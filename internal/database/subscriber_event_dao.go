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

package database

import (
	"context"

	"github.com/lukasdietrich/rundbrief/internal/models"
)

// SubscriberEventDao is a data access object for the subscriber-state audit history.
type SubscriberEventDao interface {
	// Insert inserts a new event.
	Insert(context.Context, Queryer, *models.SubscriberEventEntity) error
	// FindBySubscriber returns all events of a subscriber, oldest first.
	FindBySubscriber(context.Context, Queryer, int64) ([]models.SubscriberEventEntity, error)
}

// subscriberEventDao is the sqlite implementation of SubscriberEventDao.
type subscriberEventDao struct{}

// NewSubscriberEventDao creates a new SubscriberEventDao.
func NewSubscriberEventDao() SubscriberEventDao {
	return subscriberEventDao{}
}

func (subscriberEventDao) Insert(
	ctx context.Context,
	q Queryer,
	event *models.SubscriberEventEntity,
) error {
	const query = `
		insert into "subscriber_events" (
			"subscriber_id" ,
			"occurred_at" ,
			"summary" ,
			"detail"
		) values (
			:subscriber_id ,
			:occurred_at ,
			:summary ,
			:detail
		) ;
	`

	result, err := execNamed(ctx, q, query, event)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err != nil {
		return err
	}

	event.ID, err = result.LastInsertId()
	return err
}

func (subscriberEventDao) FindBySubscriber(
	ctx context.Context,
	q Queryer,
	subscriberID int64,
) ([]models.SubscriberEventEntity, error) {
	const query = `
		select *
		from "subscriber_events"
		where "subscriber_id" = $1
		order by "id" ;
	`

	var eventSlice []models.SubscriberEventEntity

	if err := selectSlice(ctx, q, &eventSlice, query, subscriberID); err != nil {
		return nil, err
	}

	return eventSlice, nil
}
