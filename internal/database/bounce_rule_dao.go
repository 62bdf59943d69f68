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

// BounceRuleDao is a data access object for all bounce-rule related queries.
type BounceRuleDao interface {
	// Insert inserts a new rule. If ListOrder is zero, the rule is appended after the
	// current maximum.
	Insert(context.Context, Queryer, *models.BounceRuleEntity) error
	// FindAllOrdered returns all rules in matching priority order.
	FindAllOrdered(context.Context, Queryer) ([]models.BounceRuleEntity, error)
	// ExistsByRegex reports whether a rule with the exact regex already exists.
	ExistsByRegex(ctx context.Context, q Queryer, regex string) (bool, error)
	// IncrementMatchCount increments the match counter of a rule.
	IncrementMatchCount(context.Context, Queryer, int64) error
}

// bounceRuleDao is the sqlite implementation of BounceRuleDao.
type bounceRuleDao struct{}

// NewBounceRuleDao creates a new BounceRuleDao.
func NewBounceRuleDao() BounceRuleDao {
	return bounceRuleDao{}
}

func (bounceRuleDao) Insert(ctx context.Context, q Queryer, rule *models.BounceRuleEntity) error {
	if rule.ListOrder == 0 {
		const next = `
			select coalesce(max("list_order"), 0) + 1
			from "bounce_rules" ;
		`

		if err := selectOne(ctx, q, &rule.ListOrder, next); err != nil {
			return err
		}
	}

	const query = `
		insert into "bounce_rules" (
			"regex" ,
			"action" ,
			"list_order" ,
			"status" ,
			"match_count"
		) values (
			:regex ,
			:action ,
			:list_order ,
			:status ,
			:match_count
		) ;
	`

	result, err := execNamed(ctx, q, query, rule)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err != nil {
		return err
	}

	rule.ID, err = result.LastInsertId()
	return err
}

func (bounceRuleDao) FindAllOrdered(
	ctx context.Context,
	q Queryer,
) ([]models.BounceRuleEntity, error) {
	const query = `
		select *
		from "bounce_rules"
		order by "list_order" , "id" ;
	`

	var ruleSlice []models.BounceRuleEntity

	if err := selectSlice(ctx, q, &ruleSlice, query); err != nil {
		return nil, err
	}

	return ruleSlice, nil
}

func (bounceRuleDao) ExistsByRegex(
	ctx context.Context,
	q Queryer,
	regex string,
) (bool, error) {
	const query = `
		select exists (
			select 1
			from "bounce_rules"
			where "regex" = $1
		) ;
	`

	var exists bool

	if err := selectOne(ctx, q, &exists, query, regex); err != nil {
		return false, err
	}

	return exists, nil
}

func (bounceRuleDao) IncrementMatchCount(ctx context.Context, q Queryer, id int64) error {
	const query = `
		update "bounce_rules"
		set "match_count" = "match_count" + 1
		where "id" = $1 ;
	`

	result, err := execPositional(ctx, q, query, id)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}
