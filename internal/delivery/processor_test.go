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
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/rundbrief/internal/crypto"
	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/locking"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

// fakeSender records submissions in memory and can be told to refuse certain addresses.
type fakeSender struct {
	sent          []string
	failing       map[string]bool
	notifications []string
}

func (f *fakeSender) Send(
	_ context.Context,
	campaign *models.CampaignEntity,
	subscriber *models.SubscriberEntity,
) bool {
	if f.failing[subscriber.Email] {
		return false
	}

	f.sent = append(f.sent, fmt.Sprintf("%d:%s", campaign.ID, subscriber.Email))
	return true
}

func (f *fakeSender) Notify(_ context.Context, _ []string, subject, _ string) error {
	f.notifications = append(f.notifications, subject)
	return nil
}

func TestProcessorTestSuite(t *testing.T) {
	suite.Run(t, new(ProcessorTestSuite))
}

type ProcessorTestSuite struct {
	suite.Suite

	ctx       context.Context
	conn      database.Conn
	fs        afero.Fs
	sender    *fakeSender
	locker    *locking.Locker
	processor *Processor
}

func (s *ProcessorTestSuite) SetupTest() {
	viper.Set("storage.database.filename", ":memory:")
	viper.Set("storage.database.journalmode", "memory")
	viper.Set("delivery.queue.batchsize", 0)
	viper.Set("delivery.queue.batchperiod", "3600s")
	viper.Set("delivery.queue.domainbatchsize", 0)
	viper.Set("delivery.queue.throttle", "0s")
	viper.Set("delivery.queue.maxprocessingtime", "0s")
	viper.Set("delivery.queue.alwayscheckdeadline", false)
	viper.Set("delivery.queue.restrictionfile", "")
	viper.Set("delivery.repeat.excludeweekdays", []string{})
	viper.Set("lock.staleafter", "600s")

	conn, err := database.OpenConnection()
	s.Require().NoError(err)

	campaignDao := database.NewCampaignDao()
	subscriberDao := database.NewSubscriberDao()
	statusDao := database.NewDeliveryStatusDao()
	eventDao := database.NewSubscriberEventDao()

	s.ctx = context.Background()
	s.conn = conn
	s.fs = afero.NewMemMapFs()
	s.sender = &fakeSender{failing: make(map[string]bool)}
	s.locker = locking.NewLocker(conn, database.NewProcessLockDao(), crypto.NewTokenGenerator())

	s.processor = NewProcessor(
		conn,
		campaignDao,
		subscriberDao,
		statusDao,
		eventDao,
		NewSelector(conn, subscriberDao),
		NewScheduler(campaignDao),
		s.locker,
		s.sender,
		s.fs,
	)

	s.processor.sleep = func(time.Duration) {}
}

func (s *ProcessorTestSuite) TearDownTest() {
	s.Require().NoError(s.conn.Close())
}

func (s *ProcessorTestSuite) requireExec(query string, args ...interface{}) {
	_, err := s.conn.ExecContext(s.ctx, query, args...)
	s.Require().NoError(err)
}

// seedCampaign creates campaign #1 targeting list #10 with the subscribers #100 and #101.
func (s *ProcessorTestSuite) seedCampaign() {
	s.requireExec(`
		insert into "campaigns"
		( "id" , "subject" , "body" , "status" , "notify_start" , "notify_end" )
		values ( 1 , 'hello' , 'world' , 'submitted' , 'admin@example.org' , 'admin@example.org' ) ;
	`)

	s.requireExec(`insert into "lists" ( "id" , "name" ) values ( 10 , 'news' ) ;`)
	s.requireExec(`
		insert into "campaign_lists" ( "campaign_id" , "list_id" , "exclude" )
		values ( 1 , 10 , 0 ) ;
	`)

	s.seedSubscriber(100, "anna@example.org")
	s.seedSubscriber(101, "bert@example.com")
}

func (s *ProcessorTestSuite) seedSubscriber(id int64, email string) {
	s.requireExec(`
		insert into "subscribers" ( "id" , "email" , "unique_id" , "confirmed" )
		values ( ? , ? , ? , 1 ) ;
	`, id, email, fmt.Sprintf("uid-%d", id))

	s.requireExec(`
		insert into "list_subscriptions" ( "list_id" , "subscriber_id" )
		values ( 10 , ? ) ;
	`, id)
}

func (s *ProcessorTestSuite) queryCampaignStatus(id int64) string {
	var status string
	row := s.conn.QueryRowxContext(s.ctx, `select "status" from "campaigns" where "id" = ?`, id)
	s.Require().NoError(row.Scan(&status))
	return status
}

func (s *ProcessorTestSuite) queryDeliveryStatus(subscriberID, campaignID int64) string {
	var status string
	row := s.conn.QueryRowxContext(s.ctx, `
		select "status" from "delivery_status"
		where "subscriber_id" = ? and "campaign_id" = ?`,
		subscriberID, campaignID)
	s.Require().NoError(row.Scan(&status))
	return status
}

func (s *ProcessorTestSuite) TestProcess_sendsDueCampaign() {
	s.seedCampaign()

	outcome, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)

	s.Assert().Equal(StageDone, outcome.Stage)
	s.Assert().Equal(1, outcome.Campaigns)
	s.Assert().Equal(2, outcome.Sent)
	s.Assert().Zero(outcome.Failed)
	s.Assert().False(outcome.Reload)

	s.Assert().ElementsMatch(
		[]string{"1:anna@example.org", "1:bert@example.com"},
		s.sender.sent)

	s.Assert().Equal("sent", s.queryCampaignStatus(1))
	s.Assert().Equal("sent", s.queryDeliveryStatus(100, 1))
	s.Assert().Equal("sent", s.queryDeliveryStatus(101, 1))

	s.Assert().Equal([]string{
		"Campaign started: hello",
		"Campaign finished: hello",
	}, s.sender.notifications)
}

func (s *ProcessorTestSuite) TestProcess_isIdempotent() {
	s.seedCampaign()

	_, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)

	again, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)

	s.Assert().Equal(StageDone, again.Stage)
	s.Assert().Zero(again.Campaigns)
	s.Assert().Zero(again.Sent)
	s.Assert().Len(s.sender.sent, 2)
}

func (s *ProcessorTestSuite) TestProcess_lockHeld() {
	s.seedCampaign()

	_, err := s.locker.Acquire(s.ctx, "processqueue", false)
	s.Require().NoError(err)

	_, err = s.processor.Process(s.ctx, Options{})
	s.Assert().ErrorIs(err, locking.ErrLockHeld)
	s.Assert().Empty(s.sender.sent)

	outcome, err := s.processor.Process(s.ctx, Options{Force: true})
	s.Require().NoError(err)
	s.Assert().Equal(2, outcome.Sent)
}

func (s *ProcessorTestSuite) TestProcess_batchBudget() {
	viper.Set("delivery.queue.batchsize", 1)
	s.seedCampaign()

	first, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)
	s.Assert().Equal(1, first.Sent)
	s.Assert().True(first.Reload)
	s.Assert().Equal("inprocess", s.queryCampaignStatus(1))

	second, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)
	s.Assert().Zero(second.Sent)
	s.Assert().Equal(time.Hour, second.Wait)
	s.Assert().True(second.Reload)

	viper.Set("delivery.queue.batchsize", 0)

	third, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)
	s.Assert().Equal(1, third.Sent)
	s.Assert().Equal("sent", s.queryCampaignStatus(1))

	// The start notification must not repeat on resumed invocations.
	started := 0
	for _, subject := range s.sender.notifications {
		if subject == "Campaign started: hello" {
			started++
		}
	}
	s.Assert().Equal(1, started)
}

func (s *ProcessorTestSuite) TestProcess_failedSendIsRetried() {
	s.seedCampaign()
	s.sender.failing["bert@example.com"] = true

	first, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)
	s.Assert().Equal(1, first.Sent)
	s.Assert().Equal(1, first.Failed)
	s.Assert().Equal("inprocess", s.queryCampaignStatus(1))
	s.Assert().Equal("todo", s.queryDeliveryStatus(101, 1))

	delete(s.sender.failing, "bert@example.com")

	second, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)
	s.Assert().Equal(1, second.Sent)
	s.Assert().Equal("sent", s.queryCampaignStatus(1))
	s.Assert().Equal("sent", s.queryDeliveryStatus(101, 1))
}

func (s *ProcessorTestSuite) TestProcess_invalidAddressIsNeverRetried() {
	s.seedCampaign()
	s.requireExec(`update "subscribers" set "email" = 'not-an-address' where "id" = 101 ;`)

	outcome, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)

	s.Assert().Equal(1, outcome.Sent)
	s.Assert().Equal("invalid email address", s.queryDeliveryStatus(101, 1))

	var confirmed bool
	row := s.conn.QueryRowxContext(s.ctx,
		`select "confirmed" from "subscribers" where "id" = 101`)
	s.Require().NoError(row.Scan(&confirmed))
	s.Assert().False(confirmed)

	var events int
	row = s.conn.QueryRowxContext(s.ctx,
		`select count(*) from "subscriber_events" where "subscriber_id" = 101`)
	s.Require().NoError(row.Scan(&events))
	s.Assert().Equal(1, events)
}

func (s *ProcessorTestSuite) TestProcess_lockfileSuspendsSending() {
	s.seedCampaign()

	viper.Set("delivery.queue.restrictionfile", "/etc/rundbrief/restriction")
	s.Require().NoError(afero.WriteFile(s.fs, "/etc/rundbrief/restriction",
		[]byte("lockfile=/etc/rundbrief/suspend\n"), 0600))
	s.Require().NoError(afero.WriteFile(s.fs, "/etc/rundbrief/suspend", nil, 0600))

	outcome, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)

	s.Assert().Equal(StageLocked, outcome.Stage)
	s.Assert().NotZero(outcome.Wait)
	s.Assert().True(outcome.Reload)
	s.Assert().Empty(s.sender.sent)
}

func (s *ProcessorTestSuite) TestProcess_deadlinePassedStopsCampaign() {
	s.seedCampaign()
	s.requireExec(`update "campaigns" set "finish_sending_by" = 1000 where "id" = 1 ;`)

	outcome, err := s.processor.Process(s.ctx, Options{})
	s.Require().NoError(err)

	s.Assert().Empty(s.sender.sent)
	s.Assert().NotEqual("sent", s.queryCampaignStatus(1))
	s.Assert().Equal(StageDone, outcome.Stage)
	s.Assert().False(outcome.Reload)
}

func TestScaleMaxOption(t *testing.T) {
	assert.Equal(t, 0, scaleMaxOption(0))
	assert.Equal(t, 2, scaleMaxOption(1))
	assert.Equal(t, 2, scaleMaxOption(19))
	assert.Equal(t, 20, scaleMaxOption(20))
	assert.Equal(t, 20, scaleMaxOption(199))
	assert.Equal(t, 200, scaleMaxOption(200))
	assert.Equal(t, 5000, scaleMaxOption(5000))
}
