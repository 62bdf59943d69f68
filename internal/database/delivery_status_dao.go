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
	"database/sql"

	"github.com/lukasdietrich/rundbrief/internal/models"
)

// SendHistoryRow is one row of a subscribers send history, left-joined with bounce links.
type SendHistoryRow struct {
	CampaignID int64         `db:"campaign_id"`
	EnteredAt  int64         `db:"entered_at"`
	BounceID   sql.NullInt64 `db:"bounce_id"`
}

// DeliveryStatusDao is a data access object for the per subscriber per campaign send-state.
type DeliveryStatusDao interface {
	// MarkActive transitions the pair to active. If no row exists yet, one is created. If a
	// row exists with a status other than todo, sql.ErrNoRows is returned, which serializes
	// concurrent invocations on the same pair.
	MarkActive(ctx context.Context, q Queryer, subscriberID, campaignID, now int64) error
	// UpdateStatus sets the status of an existing pair unconditionally.
	UpdateStatus(
		ctx context.Context,
		q Queryer,
		subscriberID, campaignID int64,
		status models.DeliveryStatus,
		now int64,
	) error
	// Find returns the status row of a pair.
	Find(ctx context.Context, q Queryer, subscriberID, campaignID int64) (*models.DeliveryStatusEntity, error)
	// CountRecentlySent counts all sends across campaigns, that entered the sent status at
	// or after the given time.
	CountRecentlySent(ctx context.Context, q Queryer, since int64) (int, error)
	// CountByStatus counts the rows of a campaign with the given status.
	CountByStatus(ctx context.Context, q Queryer, campaignID int64, status models.DeliveryStatus) (int, error)
	// FindSendHistory returns the sent rows of a subscriber newest-first, each left-joined
	// with an optional bounce link for the same pair.
	FindSendHistory(ctx context.Context, q Queryer, subscriberID int64) ([]SendHistoryRow, error)
}

// deliveryStatusDao is the sqlite implementation of DeliveryStatusDao.
type deliveryStatusDao struct{}

// NewDeliveryStatusDao creates a new DeliveryStatusDao.
func NewDeliveryStatusDao() DeliveryStatusDao {
	return deliveryStatusDao{}
}

func (deliveryStatusDao) MarkActive(
	ctx context.Context,
	q Queryer,
	subscriberID, campaignID, now int64,
) error {
	const update = `
		update "delivery_status"
		set "status" = 'active' ,
		    "entered_at" = $1
		where "subscriber_id" = $2
		  and "campaign_id" = $3
		  and "status" = 'todo' ;
	`

	result, err := execPositional(ctx, q, update, now, subscriberID, campaignID)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err == nil {
		return nil
	}

	const insert = `
		insert into "delivery_status" (
			"subscriber_id" ,
			"campaign_id" ,
			"status" ,
			"entered_at"
		) values ( $1 , $2 , 'active' , $3 ) ;
	`

	result, err = execPositional(ctx, q, insert, subscriberID, campaignID, now)
	if err != nil {
		if IsErrUnique(err) {
			// The pair exists with a terminal status already.
			return sql.ErrNoRows
		}

		return err
	}

	return ensureRowsAffected(result)
}

func (deliveryStatusDao) UpdateStatus(
	ctx context.Context,
	q Queryer,
	subscriberID, campaignID int64,
	status models.DeliveryStatus,
	now int64,
) error {
	const update = `
		update "delivery_status"
		set "status" = $1 ,
		    "entered_at" = $2
		where "subscriber_id" = $3
		  and "campaign_id" = $4 ;
	`

	result, err := execPositional(ctx, q, update, status, now, subscriberID, campaignID)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err == nil {
		return nil
	}

	const insert = `
		insert into "delivery_status" (
			"subscriber_id" ,
			"campaign_id" ,
			"status" ,
			"entered_at"
		) values ( $1 , $2 , $3 , $4 ) ;
	`

	result, err = execPositional(ctx, q, insert, subscriberID, campaignID, status, now)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (deliveryStatusDao) Find(
	ctx context.Context,
	q Queryer,
	subscriberID, campaignID int64,
) (*models.DeliveryStatusEntity, error) {
	const query = `
		select *
		from "delivery_status"
		where "subscriber_id" = $1
		  and "campaign_id" = $2 ;
	`

	var status models.DeliveryStatusEntity

	if err := selectOne(ctx, q, &status, query, subscriberID, campaignID); err != nil {
		return nil, err
	}

	return &status, nil
}

func (deliveryStatusDao) CountRecentlySent(
	ctx context.Context,
	q Queryer,
	since int64,
) (int, error) {
	const query = `
		select count(*)
		from "delivery_status"
		where "status" = 'sent'
		  and "entered_at" >= $1 ;
	`

	var count int

	if err := selectOne(ctx, q, &count, query, since); err != nil {
		return 0, err
	}

	return count, nil
}

func (deliveryStatusDao) CountByStatus(
	ctx context.Context,
	q Queryer,
	campaignID int64,
	status models.DeliveryStatus,
) (int, error) {
	const query = `
		select count(*)
		from "delivery_status"
		where "campaign_id" = $1
		  and "status" = $2 ;
	`

	var count int

	if err := selectOne(ctx, q, &count, query, campaignID, status); err != nil {
		return 0, err
	}

	return count, nil
}

func (deliveryStatusDao) FindSendHistory(
	ctx context.Context,
	q Queryer,
	subscriberID int64,
) ([]SendHistoryRow, error) {
	const query = `
		select "delivery_status"."campaign_id" ,
		       "delivery_status"."entered_at" ,
		       "bounce_links"."bounce_id"
		from "delivery_status"
			left join "bounce_links"
				on "bounce_links"."subscriber_id" = "delivery_status"."subscriber_id"
			   and "bounce_links"."campaign_id" = "delivery_status"."campaign_id"
		where "delivery_status"."subscriber_id" = $1
		  and "delivery_status"."status" = 'sent'
		order by "delivery_status"."entered_at" desc ,
		         "delivery_status"."campaign_id" desc ;
	`

	var historySlice []SendHistoryRow

	if err := selectSlice(ctx, q, &historySlice, query, subscriberID); err != nil {
		return nil, err
	}

	return historySlice, nil
}
