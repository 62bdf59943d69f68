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

// CampaignDao is a data access object for all campaign related queries.
type CampaignDao interface {
	// Insert inserts a new campaign.
	Insert(context.Context, Queryer, *models.CampaignEntity) error
	// Update updates all mutable columns of an existing campaign.
	Update(context.Context, Queryer, *models.CampaignEntity) error
	// UpdateStatus transitions the campaign status, but only if the campaign currently has
	// the expected status. A sql.ErrNoRows is returned otherwise.
	UpdateStatus(ctx context.Context, q Queryer, id int64, from, to models.CampaignStatus) error
	// FindByID returns the campaign with the given id.
	FindByID(context.Context, Queryer, int64) (*models.CampaignEntity, error)
	// FindDue returns all campaigns, that are submitted or inprocess with an embargo not in
	// the future, ordered by id.
	FindDue(ctx context.Context, q Queryer, now int64) ([]models.CampaignEntity, error)
	// IncrementBounceCount increments the bounce counter of a campaign.
	IncrementBounceCount(context.Context, Queryer, int64) error
}

// campaignDao is the sqlite implementation of CampaignDao.
type campaignDao struct{}

// NewCampaignDao creates a new CampaignDao.
func NewCampaignDao() CampaignDao {
	return campaignDao{}
}

func (campaignDao) Insert(ctx context.Context, q Queryer, campaign *models.CampaignEntity) error {
	const query = `
		insert into "campaigns" (
			"subject" ,
			"body" ,
			"status" ,
			"embargo" ,
			"finish_sending_by" ,
			"repeat_interval" ,
			"repeat_until" ,
			"requeue_interval" ,
			"requeue_until" ,
			"selection_query" ,
			"processed" ,
			"sent_count" ,
			"bounce_count" ,
			"notify_start" ,
			"notify_end"
		) values (
			:subject ,
			:body ,
			:status ,
			:embargo ,
			:finish_sending_by ,
			:repeat_interval ,
			:repeat_until ,
			:requeue_interval ,
			:requeue_until ,
			:selection_query ,
			:processed ,
			:sent_count ,
			:bounce_count ,
			:notify_start ,
			:notify_end
		) ;
	`

	result, err := execNamed(ctx, q, query, campaign)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err != nil {
		return err
	}

	campaign.ID, err = result.LastInsertId()
	return err
}

func (campaignDao) Update(ctx context.Context, q Queryer, campaign *models.CampaignEntity) error {
	const query = `
		update "campaigns"
		set "subject"           = :subject ,
		    "body"              = :body ,
		    "status"            = :status ,
		    "embargo"           = :embargo ,
		    "finish_sending_by" = :finish_sending_by ,
		    "repeat_interval"   = :repeat_interval ,
		    "repeat_until"      = :repeat_until ,
		    "requeue_interval"  = :requeue_interval ,
		    "requeue_until"     = :requeue_until ,
		    "selection_query"   = :selection_query ,
		    "processed"         = :processed ,
		    "sent_count"        = :sent_count ,
		    "bounce_count"      = :bounce_count ,
		    "notify_start"      = :notify_start ,
		    "notify_end"        = :notify_end
		where "id" = :id ;
	`

	result, err := execNamed(ctx, q, query, campaign)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (campaignDao) UpdateStatus(
	ctx context.Context,
	q Queryer,
	id int64,
	from, to models.CampaignStatus,
) error {
	const query = `
		update "campaigns"
		set "status" = $1
		where "id" = $2
		  and "status" = $3 ;
	`

	result, err := execPositional(ctx, q, query, to, id, from)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (campaignDao) FindByID(
	ctx context.Context,
	q Queryer,
	id int64,
) (*models.CampaignEntity, error) {
	const query = `
		select *
		from "campaigns"
		where "id" = $1 ;
	`

	var campaign models.CampaignEntity

	if err := selectOne(ctx, q, &campaign, query, id); err != nil {
		return nil, err
	}

	return &campaign, nil
}

func (campaignDao) FindDue(
	ctx context.Context,
	q Queryer,
	now int64,
) ([]models.CampaignEntity, error) {
	const query = `
		select *
		from "campaigns"
		where "status" in ( 'submitted' , 'inprocess' )
		  and ( "embargo" is null or "embargo" <= $1 )
		order by "id" ;
	`

	var campaignSlice []models.CampaignEntity

	if err := selectSlice(ctx, q, &campaignSlice, query, now); err != nil {
		return nil, err
	}

	return campaignSlice, nil
}

func (campaignDao) IncrementBounceCount(ctx context.Context, q Queryer, id int64) error {
	const query = `
		update "campaigns"
		set "bounce_count" = "bounce_count" + 1
		where "id" = $1 ;
	`

	result, err := execPositional(ctx, q, query, id)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}
