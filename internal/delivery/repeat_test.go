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
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

type SchedulerTestSuite struct {
	suite.Suite

	database    *database.MockConn
	campaignDao *database.MockCampaignDao

	scheduler *Scheduler
}

// testNow is a monday around noon utc.
const testNow = 1_000_000

func (s *SchedulerTestSuite) SetupTest() {
	s.database = new(database.MockConn)
	s.campaignDao = new(database.MockCampaignDao)

	s.scheduler = &Scheduler{
		campaignDao: s.campaignDao,
		clock:       func() time.Time { return time.Unix(testNow, 0) },
		excluded:    make(map[time.Weekday]bool),
	}
}

func (s *SchedulerTestSuite) TeardownTest() {
	mock.AssertExpectationsForObjects(s.T(),
		s.database,
		s.campaignDao)
}

func (s *SchedulerTestSuite) TestRepeat_clonesCampaign() {
	campaign := models.CampaignEntity{
		ID:              1,
		Subject:         "weekly news",
		Body:            "hello",
		Status:          models.CampaignSent,
		Embargo:         sql.NullInt64{Valid: true, Int64: 999_000},
		FinishSendingBy: sql.NullInt64{Valid: true, Int64: 999_500},
		RepeatUntil:     sql.NullInt64{Valid: true, Int64: 2_000_000},
		RepeatInterval:  3600,
	}

	s.campaignDao.On("Insert",
		mock.Anything,
		s.database,
		mock.MatchedBy(func(clone *models.CampaignEntity) bool {
			return clone.ID == 0 &&
				clone.Subject == "weekly news" &&
				clone.Status == models.CampaignSubmitted &&
				clone.Embargo.Int64 == 1_002_600 &&
				clone.FinishSendingBy.Int64 == 1_003_100 &&
				clone.RepeatInterval == 3600
		}),
	).Return(nil)

	err := s.scheduler.ScheduleFollowups(context.TODO(), s.database, &campaign)
	s.Require().NoError(err)
}

func (s *SchedulerTestSuite) TestRepeat_periodOver() {
	campaign := models.CampaignEntity{
		ID:             2,
		Status:         models.CampaignSent,
		Embargo:        sql.NullInt64{Valid: true, Int64: 999_000},
		RepeatUntil:    sql.NullInt64{Valid: true, Int64: 1_000_100},
		RepeatInterval: 3600,
	}

	err := s.scheduler.ScheduleFollowups(context.TODO(), s.database, &campaign)
	s.Require().NoError(err)
}

func (s *SchedulerTestSuite) TestRepeat_catchesUpToFuture() {
	campaign := models.CampaignEntity{
		ID:             3,
		Status:         models.CampaignSent,
		Embargo:        sql.NullInt64{Valid: true, Int64: 500_000},
		RepeatUntil:    sql.NullInt64{Valid: true, Int64: 2_000_000},
		RepeatInterval: 3600,
	}

	s.campaignDao.On("Insert",
		mock.Anything,
		s.database,
		mock.MatchedBy(func(clone *models.CampaignEntity) bool {
			return clone.Embargo.Int64 == 1_000_400
		}),
	).Return(nil)

	err := s.scheduler.ScheduleFollowups(context.TODO(), s.database, &campaign)
	s.Require().NoError(err)
}

func (s *SchedulerTestSuite) TestRequeue_resetsCampaign() {
	campaign := models.CampaignEntity{
		ID:              4,
		Status:          models.CampaignSent,
		Embargo:         sql.NullInt64{Valid: true, Int64: 999_000},
		RequeueUntil:    sql.NullInt64{Valid: true, Int64: 2_000_000},
		RequeueInterval: 7200,
	}

	s.campaignDao.On("Update",
		mock.Anything,
		s.database,
		mock.MatchedBy(func(updated *models.CampaignEntity) bool {
			return updated.ID == 4 &&
				updated.Status == models.CampaignSubmitted &&
				updated.Embargo.Int64 == 1_006_200
		}),
	).Return(nil)

	err := s.scheduler.ScheduleFollowups(context.TODO(), s.database, &campaign)
	s.Require().NoError(err)
}

func (s *SchedulerTestSuite) TestNextEmbargo_skipsExcludedWeekdays() {
	s.scheduler.excluded[time.Tuesday] = true

	previous := sql.NullInt64{Valid: true, Int64: testNow}
	next := s.scheduler.nextEmbargo(previous, 86_400)

	s.Assert().Equal(time.Wednesday, time.Unix(next, 0).UTC().Weekday())
	s.Assert().EqualValues(testNow+2*86_400, next)
}

func (s *SchedulerTestSuite) TestNextEmbargo_weekdaySkipLimit() {
	s.scheduler.excluded[time.Monday] = true

	const week = 7 * 86_400

	previous := sql.NullInt64{Valid: true, Int64: testNow}
	next := s.scheduler.nextEmbargo(previous, week)

	// A weekly interval can never leave the excluded weekday. The embargo is kept after a
	// bounded number of attempts.
	s.Assert().Equal(time.Monday, time.Unix(next, 0).UTC().Weekday())
	s.Assert().EqualValues(testNow+16*week, next)
}

func (s *SchedulerTestSuite) TestParseExcludedWeekdays() {
	excluded := parseExcludedWeekdays([]string{"Saturday", " sunday ", "nonsense"})

	s.Assert().Equal(map[time.Weekday]bool{
		time.Saturday: true,
		time.Sunday:   true,
	}, excluded)
}
