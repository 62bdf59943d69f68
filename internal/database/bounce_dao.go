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

// BounceDao is a data access object for all bounce related queries.
type BounceDao interface {
	// Insert inserts a new bounce.
	Insert(context.Context, Queryer, *models.BounceEntity) error
	// UpdateStatus sets the classification outcome of a bounce.
	UpdateStatus(ctx context.Context, q Queryer, id int64, status, comment string) error
	// Delete deletes an existing bounce.
	Delete(context.Context, Queryer, int64) error
	// FindUnidentified returns all bounces, that are still unidentified, ordered by id.
	FindUnidentified(context.Context, Queryer) ([]models.BounceEntity, error)
}

// bounceDao is the sqlite implementation of BounceDao.
type bounceDao struct{}

// NewBounceDao creates a new BounceDao.
func NewBounceDao() BounceDao {
	return bounceDao{}
}

func (bounceDao) Insert(ctx context.Context, q Queryer, bounce *models.BounceEntity) error {
	const query = `
		insert into "bounces" (
			"date" ,
			"header" ,
			"data" ,
			"status" ,
			"comment"
		) values (
			:date ,
			:header ,
			:data ,
			:status ,
			:comment
		) ;
	`

	result, err := execNamed(ctx, q, query, bounce)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err != nil {
		return err
	}

	bounce.ID, err = result.LastInsertId()
	return err
}

func (bounceDao) UpdateStatus(
	ctx context.Context,
	q Queryer,
	id int64,
	status, comment string,
) error {
	const query = `
		update "bounces"
		set "status" = $1 ,
		    "comment" = $2
		where "id" = $3 ;
	`

	result, err := execPositional(ctx, q, query, status, comment, id)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (bounceDao) Delete(ctx context.Context, q Queryer, id int64) error {
	const query = `
		delete from "bounces"
		where "id" = $1 ;
	`

	result, err := execPositional(ctx, q, query, id)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (bounceDao) FindUnidentified(
	ctx context.Context,
	q Queryer,
) ([]models.BounceEntity, error) {
	const query = `
		select *
		from "bounces"
		where "status" = $1
		order by "id" ;
	`

	var bounceSlice []models.BounceEntity

	if err := selectSlice(ctx, q, &bounceSlice, query, models.BounceStatusUnidentified); err != nil {
		return nil, err
	}

	return bounceSlice, nil
}
