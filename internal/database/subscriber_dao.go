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

// SubscriberDao is a data access object for all subscriber related queries.
type SubscriberDao interface {
	// Insert inserts a new subscriber.
	Insert(context.Context, Queryer, *models.SubscriberEntity) error
	// Update updates the mutable state flags of an existing subscriber.
	Update(context.Context, Queryer, *models.SubscriberEntity) error
	// Delete deletes an existing subscriber.
	Delete(context.Context, Queryer, int64) error
	// FindByID returns the subscriber with the given id.
	FindByID(context.Context, Queryer, int64) (*models.SubscriberEntity, error)
	// FindByEmail returns the subscriber with the given email.
	FindByEmail(context.Context, Queryer, string) (*models.SubscriberEntity, error)
	// FindEligible returns up to limit subscribers eligible for a campaign: confirmed, not
	// blacklisted, not disabled, on a target list, not on an exclude list and without a
	// non-todo delivery status for the campaign. If candidates is not nil, the result is
	// additionally restricted to those ids.
	FindEligible(
		ctx context.Context,
		q Queryer,
		campaignID int64,
		candidates []int64,
		limit int,
	) ([]models.SubscriberEntity, error)
	// SelectIDsByQuery runs an operator provided selection query, that yields subscriber
	// ids.
	SelectIDsByQuery(ctx context.Context, q Queryer, query string) ([]int64, error)
	// HasAttributes reports whether any subscriber attributes are defined at all.
	HasAttributes(context.Context, Queryer) (bool, error)
	// FindConfirmedWithBounces returns the ids of all confirmed subscribers, that have at
	// least one bounce link.
	FindConfirmedWithBounces(context.Context, Queryer) ([]int64, error)
}

// subscriberDao is the sqlite implementation of SubscriberDao.
type subscriberDao struct{}

// NewSubscriberDao creates a new SubscriberDao.
func NewSubscriberDao() SubscriberDao {
	return subscriberDao{}
}

func (subscriberDao) Insert(
	ctx context.Context,
	q Queryer,
	subscriber *models.SubscriberEntity,
) error {
	const query = `
		insert into "subscribers" (
			"email" ,
			"unique_id" ,
			"confirmed" ,
			"blacklisted" ,
			"disabled" ,
			"html_email" ,
			"bounce_count"
		) values (
			:email ,
			:unique_id ,
			:confirmed ,
			:blacklisted ,
			:disabled ,
			:html_email ,
			:bounce_count
		) ;
	`

	result, err := execNamed(ctx, q, query, subscriber)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err != nil {
		return err
	}

	subscriber.ID, err = result.LastInsertId()
	return err
}

func (subscriberDao) Update(
	ctx context.Context,
	q Queryer,
	subscriber *models.SubscriberEntity,
) error {
	const query = `
		update "subscribers"
		set "email"        = :email ,
		    "confirmed"    = :confirmed ,
		    "blacklisted"  = :blacklisted ,
		    "disabled"     = :disabled ,
		    "html_email"   = :html_email ,
		    "bounce_count" = :bounce_count
		where "id" = :id ;
	`

	result, err := execNamed(ctx, q, query, subscriber)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (subscriberDao) Delete(ctx context.Context, q Queryer, id int64) error {
	const query = `
		delete from "subscribers"
		where "id" = $1 ;
	`

	result, err := execPositional(ctx, q, query, id)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (subscriberDao) FindByID(
	ctx context.Context,
	q Queryer,
	id int64,
) (*models.SubscriberEntity, error) {
	const query = `
		select *
		from "subscribers"
		where "id" = $1 ;
	`

	var subscriber models.SubscriberEntity

	if err := selectOne(ctx, q, &subscriber, query, id); err != nil {
		return nil, err
	}

	return &subscriber, nil
}

func (subscriberDao) FindByEmail(
	ctx context.Context,
	q Queryer,
	email string,
) (*models.SubscriberEntity, error) {
	const query = `
		select *
		from "subscribers"
		where "email" = $1 ;
	`

	var subscriber models.SubscriberEntity

	if err := selectOne(ctx, q, &subscriber, query, email); err != nil {
		return nil, err
	}

	return &subscriber, nil
}

func (subscriberDao) FindEligible(
	ctx context.Context,
	q Queryer,
	campaignID int64,
	candidates []int64,
	limit int,
) ([]models.SubscriberEntity, error) {
	const query = `
		select distinct "subscribers".*
		from "subscribers"
			inner join "list_subscriptions"
				on "list_subscriptions"."subscriber_id" = "subscribers"."id"
			inner join "campaign_lists"
				on "campaign_lists"."list_id" = "list_subscriptions"."list_id"
		where "campaign_lists"."campaign_id" = ?
		  and "campaign_lists"."exclude" = 0
		  and "subscribers"."confirmed" = 1
		  and "subscribers"."blacklisted" = 0
		  and "subscribers"."disabled" = 0
		  and not exists (
				select 1
				from "campaign_lists" "excluded"
					inner join "list_subscriptions" "exclusions"
						on "exclusions"."list_id" = "excluded"."list_id"
				where "excluded"."campaign_id" = ?
				  and "excluded"."exclude" = 1
				  and "exclusions"."subscriber_id" = "subscribers"."id"
			)
		  and not exists (
				select 1
				from "delivery_status"
				where "delivery_status"."campaign_id" = ?
				  and "delivery_status"."subscriber_id" = "subscribers"."id"
				  and "delivery_status"."status" <> 'todo'
			)
	`

	var (
		subscriberSlice []models.SubscriberEntity
		err             error
	)

	if candidates != nil {
		if len(candidates) == 0 {
			return nil, nil
		}

		err = selectSliceIn(ctx, q, &subscriberSlice,
			query+` and "subscribers"."id" in (?) order by "subscribers"."id" limit ? ;`,
			campaignID, campaignID, campaignID, candidates, limit)
	} else {
		err = selectSlice(ctx, q, &subscriberSlice,
			q.Rebind(query+` order by "subscribers"."id" limit ? ;`),
			campaignID, campaignID, campaignID, limit)
	}

	if err != nil {
		return nil, err
	}

	return subscriberSlice, nil
}

func (subscriberDao) SelectIDsByQuery(
	ctx context.Context,
	q Queryer,
	query string,
) ([]int64, error) {
	var ids []int64

	if err := selectSlice(ctx, q, &ids, query); err != nil {
		return nil, err
	}

	return ids, nil
}

func (subscriberDao) HasAttributes(ctx context.Context, q Queryer) (bool, error) {
	const query = `
		select exists ( select 1 from "subscriber_attributes" ) ;
	`

	var defined bool

	if err := selectOne(ctx, q, &defined, query); err != nil {
		return false, err
	}

	return defined, nil
}

func (subscriberDao) FindConfirmedWithBounces(
	ctx context.Context,
	q Queryer,
) ([]int64, error) {
	const query = `
		select distinct "subscribers"."id"
		from "subscribers"
			inner join "bounce_links"
				on "bounce_links"."subscriber_id" = "subscribers"."id"
		where "subscribers"."confirmed" = 1
		order by "subscribers"."id" ;
	`

	var ids []int64

	if err := selectSlice(ctx, q, &ids, query); err != nil {
		return nil, err
	}

	return ids, nil
}
