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

// BounceLinkDao is a data access object for the bounce to subscriber/campaign links.
type BounceLinkDao interface {
	// Insert inserts a new link.
	Insert(context.Context, Queryer, *models.BounceLinkEntity) error
	// ExistsPair reports whether the subscriber and campaign pair is already linked to any
	// bounce. The check guards campaign bounce counters against double increments within
	// one bounce episode.
	ExistsPair(ctx context.Context, q Queryer, subscriberID, campaignID int64) (bool, error)
	// FindBySubscriber returns all links of a subscriber.
	FindBySubscriber(context.Context, Queryer, int64) ([]models.BounceLinkEntity, error)
}

// bounceLinkDao is the sqlite implementation of BounceLinkDao.
type bounceLinkDao struct{}

// NewBounceLinkDao creates a new BounceLinkDao.
func NewBounceLinkDao() BounceLinkDao {
	return bounceLinkDao{}
}

func (bounceLinkDao) Insert(ctx context.Context, q Queryer, link *models.BounceLinkEntity) error {
	const query = `
		insert into "bounce_links" (
			"subscriber_id" ,
			"campaign_id" ,
			"bounce_id"
		) values (
			:subscriber_id ,
			:campaign_id ,
			:bounce_id
		) ;
	`

	result, err := execNamed(ctx, q, query, link)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err != nil {
		return err
	}

	link.ID, err = result.LastInsertId()
	return err
}

func (bounceLinkDao) ExistsPair(
	ctx context.Context,
	q Queryer,
	subscriberID, campaignID int64,
) (bool, error) {
	const query = `
		select exists (
			select 1
			from "bounce_links"
			where "subscriber_id" = $1
			  and "campaign_id" = $2
		) ;
	`

	var exists bool

	if err := selectOne(ctx, q, &exists, query, subscriberID, campaignID); err != nil {
		return false, err
	}

	return exists, nil
}

func (bounceLinkDao) FindBySubscriber(
	ctx context.Context,
	q Queryer,
	subscriberID int64,
) ([]models.BounceLinkEntity, error) {
	const query = `
		select *
		from "bounce_links"
		where "subscriber_id" = $1
		order by "id" ;
	`

	var linkSlice []models.BounceLinkEntity

	if err := selectSlice(ctx, q, &linkSlice, query, subscriberID); err != nil {
		return nil, err
	}

	return linkSlice, nil
}
