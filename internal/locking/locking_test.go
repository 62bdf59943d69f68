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

package locking

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/rundbrief/internal/crypto"
	"github.com/lukasdietrich/rundbrief/internal/database"
)

func TestLockerTestSuite(t *testing.T) {
	suite.Run(t, new(LockerTestSuite))
}

type LockerTestSuite struct {
	suite.Suite

	ctx    context.Context
	conn   database.Conn
	locker *Locker
}

func (s *LockerTestSuite) SetupTest() {
	viper.Set("storage.database.filename", ":memory:")
	viper.Set("storage.database.journalmode", "memory")

	conn, err := database.OpenConnection()
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.conn = conn
	s.locker = NewLocker(conn, database.NewProcessLockDao(), crypto.NewTokenGenerator())
}

func (s *LockerTestSuite) TearDownTest() {
	s.Require().NoError(s.conn.Close())
}

func (s *LockerTestSuite) TestExclusivity() {
	first, err := s.locker.Acquire(s.ctx, "processqueue", false)
	s.Require().NoError(err)
	s.Require().NotNil(first)

	second, err := s.locker.Acquire(s.ctx, "processqueue", false)
	s.Assert().ErrorIs(err, ErrLockHeld)
	s.Assert().Nil(second)

	alive, err := s.locker.IsAlive(s.ctx, first)
	s.Require().NoError(err)
	s.Assert().True(alive)
}

func (s *LockerTestSuite) TestForcePreemption() {
	first, err := s.locker.Acquire(s.ctx, "processqueue", false)
	s.Require().NoError(err)

	second, err := s.locker.Acquire(s.ctx, "processqueue", true)
	s.Require().NoError(err)
	s.Require().NotNil(second)

	alive, err := s.locker.IsAlive(s.ctx, first)
	s.Require().NoError(err)
	s.Assert().False(alive)

	alive, err = s.locker.IsAlive(s.ctx, second)
	s.Require().NoError(err)
	s.Assert().True(alive)

	s.Assert().True(database.IsErrNoRows(s.locker.Heartbeat(s.ctx, first)))
	s.Assert().NoError(s.locker.Heartbeat(s.ctx, second))
}

func (s *LockerTestSuite) TestStaleHolderExpires() {
	s.locker.clock = func() time.Time {
		return time.Unix(1000, 0)
	}

	_, err := s.locker.Acquire(s.ctx, "processqueue", false)
	s.Require().NoError(err)

	s.locker.clock = func() time.Time {
		return time.Unix(1000, 0).Add(s.locker.staleAfter + time.Minute)
	}

	second, err := s.locker.Acquire(s.ctx, "processqueue", false)
	s.Require().NoError(err)
	s.Assert().NotNil(second)
}

func (s *LockerTestSuite) TestReleaseIsIdempotent() {
	lock, err := s.locker.Acquire(s.ctx, "processqueue", false)
	s.Require().NoError(err)

	s.Assert().NoError(s.locker.Release(s.ctx, lock))
	s.Assert().NoError(s.locker.Release(s.ctx, lock))

	relocked, err := s.locker.Acquire(s.ctx, "processqueue", false)
	s.Require().NoError(err)
	s.Assert().NotNil(relocked)
}

func (s *LockerTestSuite) TestDifferentNamesDoNotConflict() {
	_, err := s.locker.Acquire(s.ctx, "processqueue", false)
	s.Require().NoError(err)

	_, err = s.locker.Acquire(s.ctx, "processbounces", false)
	s.Assert().NoError(err)
}
