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

// ProcessLockDao is a data access object for the persisted process locks.
type ProcessLockDao interface {
	// Insert inserts a new lock row. A unique constraint violation means another holder
	// exists.
	Insert(context.Context, Queryer, *models.ProcessLockEntity) error
	// FindByName returns the lock row with the given name.
	FindByName(context.Context, Queryer, string) (*models.ProcessLockEntity, error)
	// Replace overwrites the holder of an existing lock row regardless of its current
	// token. This is the forced preemption.
	Replace(context.Context, Queryer, *models.ProcessLockEntity) error
	// UpdateHeartbeat bumps the heartbeat of a lock, but only while the token still
	// matches. A sql.ErrNoRows signals the holder lost the lock.
	UpdateHeartbeat(ctx context.Context, q Queryer, name, token string, now int64) error
	// DeleteByToken releases a lock, but only while the token still matches.
	DeleteByToken(ctx context.Context, q Queryer, name, token string) error
}

// processLockDao is the sqlite implementation of ProcessLockDao.
type processLockDao struct{}

// NewProcessLockDao creates a new ProcessLockDao.
func NewProcessLockDao() ProcessLockDao {
	return processLockDao{}
}

func (processLockDao) Insert(ctx context.Context, q Queryer, lock *models.ProcessLockEntity) error {
	const query = `
		insert into "process_locks" (
			"name" ,
			"token" ,
			"started_at" ,
			"last_heartbeat"
		) values (
			:name ,
			:token ,
			:started_at ,
			:last_heartbeat
		) ;
	`

	result, err := execNamed(ctx, q, query, lock)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (processLockDao) FindByName(
	ctx context.Context,
	q Queryer,
	name string,
) (*models.ProcessLockEntity, error) {
	const query = `
		select *
		from "process_locks"
		where "name" = $1 ;
	`

	var lock models.ProcessLockEntity

	if err := selectOne(ctx, q, &lock, query, name); err != nil {
		return nil, err
	}

	return &lock, nil
}

func (processLockDao) Replace(
	ctx context.Context,
	q Queryer,
	lock *models.ProcessLockEntity,
) error {
	const query = `
		update "process_locks"
		set "token"          = :token ,
		    "started_at"     = :started_at ,
		    "last_heartbeat" = :last_heartbeat
		where "name" = :name ;
	`

	result, err := execNamed(ctx, q, query, lock)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (processLockDao) UpdateHeartbeat(
	ctx context.Context,
	q Queryer,
	name, token string,
	now int64,
) error {
	const query = `
		update "process_locks"
		set "last_heartbeat" = $1
		where "name" = $2
		  and "token" = $3 ;
	`

	result, err := execPositional(ctx, q, query, now, name, token)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (processLockDao) DeleteByToken(ctx context.Context, q Queryer, name, token string) error {
	const query = `
		delete from "process_locks"
		where "name" = $1
		  and "token" = $2 ;
	`

	result, err := execPositional(ctx, q, query, name, token)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}
