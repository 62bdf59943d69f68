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

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/log"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

// Selector builds the eligible-recipient set of a campaign. No ordering is guaranteed beyond
// the underlying storage order.
type Selector struct {
	conn          database.Conn
	subscriberDao database.SubscriberDao
}

// NewSelector creates a new Selector.
func NewSelector(conn database.Conn, subscriberDao database.SubscriberDao) *Selector {
	return &Selector{
		conn:          conn,
		subscriberDao: subscriberDao,
	}
}

// Select returns up to limit eligible subscribers for the campaign. A limit of zero means
// unlimited. If the campaign carries a selection query, that yields no candidate at all,
// noEligible is true and the campaign should be closed with a "no eligible subscribers"
// outcome.
func (s *Selector) Select(
	ctx context.Context,
	campaign *models.CampaignEntity,
	limit int,
) (subscribers []models.SubscriberEntity, noEligible bool, err error) {
	candidates, noEligible, err := s.selectCandidates(ctx, campaign)
	if err != nil || noEligible {
		return nil, noEligible, err
	}

	if limit <= 0 {
		// sqlite treats a negative limit as unlimited.
		limit = -1
	}

	subscribers, err = s.subscriberDao.FindEligible(ctx, s.conn, campaign.ID, candidates, limit)
	return subscribers, false, err
}

// selectCandidates evaluates the optional attribute selection query. A nil candidate slice
// means no restriction.
func (s *Selector) selectCandidates(
	ctx context.Context,
	campaign *models.CampaignEntity,
) (candidates []int64, noEligible bool, err error) {
	if !campaign.SelectionQuery.Valid || campaign.SelectionQuery.String == "" {
		return nil, false, nil
	}

	defined, err := s.subscriberDao.HasAttributes(ctx, s.conn)
	if err != nil {
		return nil, false, err
	}

	if !defined {
		log.DebugContext(ctx).
			Msg("campaign has a selection query, but no attributes are defined")

		return nil, false, nil
	}

	candidates, err = s.subscriberDao.SelectIDsByQuery(
		ctx, s.conn, campaign.SelectionQuery.String)
	if err != nil {
		return nil, false, err
	}

	if len(candidates) == 0 {
		return nil, true, nil
	}

	return candidates, false, nil
}
