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
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/rundbrief/internal/models"
)

func TestCampaignDaoTestSuite(t *testing.T) {
	suite.Run(t, new(CampaignDaoTestSuite))
}

type CampaignDaoTestSuite struct {
	baseDatabaseTestSuite

	campaignDao CampaignDao
}

func (s *CampaignDaoTestSuite) SetupSuite() {
	s.campaignDao = NewCampaignDao()
}

func (s *CampaignDaoTestSuite) TestInsert() {
	campaign := models.CampaignEntity{
		Subject: "big news",
		Status:  models.CampaignDraft,
	}

	s.Assert().Zero(campaign.ID)
	s.Assert().NoError(s.campaignDao.Insert(s.ctx, s.conn, &campaign))
	s.Assert().NotZero(campaign.ID)

	s.assertQuery(
		`
			select "id", "subject", "status"
			from "campaigns" ;
		`,
		[]string{"1", "big news", "draft"})
}

func (s *CampaignDaoTestSuite) TestUpdateStatus() {
	s.requireExec(
		`
			insert into "campaigns" ( "id", "subject", "status" )
			values ( 42, 'big news', 'submitted' ) ;
		`)

	s.Assert().NoError(s.campaignDao.UpdateStatus(
		s.ctx, s.conn, 42, models.CampaignSubmitted, models.CampaignInProcess))

	s.assertQuery(`select "status" from "campaigns" ;`, []string{"inprocess"})

	// A second transition from the same source status must fail, because the row moved on.
	err := s.campaignDao.UpdateStatus(
		s.ctx, s.conn, 42, models.CampaignSubmitted, models.CampaignInProcess)
	s.Assert().True(IsErrNoRows(err))
}

func (s *CampaignDaoTestSuite) TestFindDue() {
	s.requireExec(
		`
			insert into "campaigns" ( "id", "subject", "status", "embargo" )
			values
				( 1, 'due',         'submitted', 100 ) ,
				( 2, 'embargoed',   'submitted', 900 ) ,
				( 3, 'resumable',   'inprocess', null ) ,
				( 4, 'already out', 'sent',      100 ) ,
				( 5, 'parked',      'draft',     100 ) ;
		`)

	due, err := s.campaignDao.FindDue(s.ctx, s.conn, 500)
	s.Require().NoError(err)

	var ids []int64
	for _, campaign := range due {
		ids = append(ids, campaign.ID)
	}

	s.Assert().Equal([]int64{1, 3}, ids)
}

func (s *CampaignDaoTestSuite) TestIncrementBounceCount() {
	s.requireExec(
		`
			insert into "campaigns" ( "id", "subject", "status", "bounce_count" )
			values ( 42, 'big news', 'sent', 2 ) ;
		`)

	s.Assert().NoError(s.campaignDao.IncrementBounceCount(s.ctx, s.conn, 42))
	s.assertQuery(`select "bounce_count" from "campaigns" ;`, []string{"3"})
}
