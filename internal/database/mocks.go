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
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/lukasdietrich/rundbrief/internal/models"
)

// Mock implementations of the database interfaces for tests of depending packages.

type mockQueryer struct {
	mock.Mock
}

func (m *mockQueryer) DriverName() string {
	return m.Called().String(0)
}

func (m *mockQueryer) Rebind(query string) string {
	return m.Called(query).String(0)
}

func (m *mockQueryer) BindNamed(query string, arg interface{}) (string, []interface{}, error) {
	ret := m.Called(query, arg)
	bound, _ := ret.Get(1).([]interface{})
	return ret.String(0), bound, ret.Error(2)
}

func (m *mockQueryer) QueryContext(
	ctx context.Context,
	query string,
	args ...interface{},
) (*sql.Rows, error) {
	ret := m.Called(ctx, query, args)
	rows, _ := ret.Get(0).(*sql.Rows)
	return rows, ret.Error(1)
}

func (m *mockQueryer) QueryxContext(
	ctx context.Context,
	query string,
	args ...interface{},
) (*sqlx.Rows, error) {
	ret := m.Called(ctx, query, args)
	rows, _ := ret.Get(0).(*sqlx.Rows)
	return rows, ret.Error(1)
}

func (m *mockQueryer) QueryRowxContext(
	ctx context.Context,
	query string,
	args ...interface{},
) *sqlx.Row {
	ret := m.Called(ctx, query, args)
	row, _ := ret.Get(0).(*sqlx.Row)
	return row
}

func (m *mockQueryer) ExecContext(
	ctx context.Context,
	query string,
	args ...interface{},
) (sql.Result, error) {
	ret := m.Called(ctx, query, args)
	result, _ := ret.Get(0).(sql.Result)
	return result, ret.Error(1)
}

// MockConn is a mock implementation of Conn.
type MockConn struct {
	mockQueryer
}

func (m *MockConn) Begin(ctx context.Context) (Tx, error) {
	ret := m.Called(ctx)
	transaction, _ := ret.Get(0).(Tx)
	return transaction, ret.Error(1)
}

func (m *MockConn) Close() error {
	return m.Called().Error(0)
}

// MockTx is a mock implementation of Tx.
type MockTx struct {
	mockQueryer
}

func (m *MockTx) Commit() error {
	return m.Called().Error(0)
}

func (m *MockTx) Rollback() error {
	return m.Called().Error(0)
}

func (m *MockTx) RollbackWith(callback func()) error {
	return m.Called(callback).Error(0)
}

// MockCampaignDao is a mock implementation of CampaignDao.
type MockCampaignDao struct {
	mock.Mock
}

func (m *MockCampaignDao) Insert(
	ctx context.Context,
	q Queryer,
	campaign *models.CampaignEntity,
) error {
	return m.Called(ctx, q, campaign).Error(0)
}

func (m *MockCampaignDao) Update(
	ctx context.Context,
	q Queryer,
	campaign *models.CampaignEntity,
) error {
	return m.Called(ctx, q, campaign).Error(0)
}

func (m *MockCampaignDao) UpdateStatus(
	ctx context.Context,
	q Queryer,
	id int64,
	from, to models.CampaignStatus,
) error {
	return m.Called(ctx, q, id, from, to).Error(0)
}

func (m *MockCampaignDao) FindByID(
	ctx context.Context,
	q Queryer,
	id int64,
) (*models.CampaignEntity, error) {
	ret := m.Called(ctx, q, id)
	campaign, _ := ret.Get(0).(*models.CampaignEntity)
	return campaign, ret.Error(1)
}

func (m *MockCampaignDao) FindDue(
	ctx context.Context,
	q Queryer,
	now int64,
) ([]models.CampaignEntity, error) {
	ret := m.Called(ctx, q, now)
	campaigns, _ := ret.Get(0).([]models.CampaignEntity)
	return campaigns, ret.Error(1)
}

func (m *MockCampaignDao) IncrementBounceCount(ctx context.Context, q Queryer, id int64) error {
	return m.Called(ctx, q, id).Error(0)
}

// MockSubscriberDao is a mock implementation of SubscriberDao.
type MockSubscriberDao struct {
	mock.Mock
}

func (m *MockSubscriberDao) Insert(
	ctx context.Context,
	q Queryer,
	subscriber *models.SubscriberEntity,
) error {
	return m.Called(ctx, q, subscriber).Error(0)
}

func (m *MockSubscriberDao) Update(
	ctx context.Context,
	q Queryer,
	subscriber *models.SubscriberEntity,
) error {
	return m.Called(ctx, q, subscriber).Error(0)
}

func (m *MockSubscriberDao) Delete(ctx context.Context, q Queryer, id int64) error {
	return m.Called(ctx, q, id).Error(0)
}

func (m *MockSubscriberDao) FindByID(
	ctx context.Context,
	q Queryer,
	id int64,
) (*models.SubscriberEntity, error) {
	ret := m.Called(ctx, q, id)
	subscriber, _ := ret.Get(0).(*models.SubscriberEntity)
	return subscriber, ret.Error(1)
}

func (m *MockSubscriberDao) FindByEmail(
	ctx context.Context,
	q Queryer,
	email string,
) (*models.SubscriberEntity, error) {
	ret := m.Called(ctx, q, email)
	subscriber, _ := ret.Get(0).(*models.SubscriberEntity)
	return subscriber, ret.Error(1)
}

func (m *MockSubscriberDao) FindEligible(
	ctx context.Context,
	q Queryer,
	campaignID int64,
	candidates []int64,
	limit int,
) ([]models.SubscriberEntity, error) {
	ret := m.Called(ctx, q, campaignID, candidates, limit)
	subscribers, _ := ret.Get(0).([]models.SubscriberEntity)
	return subscribers, ret.Error(1)
}

func (m *MockSubscriberDao) SelectIDsByQuery(
	ctx context.Context,
	q Queryer,
	query string,
) ([]int64, error) {
	ret := m.Called(ctx, q, query)
	ids, _ := ret.Get(0).([]int64)
	return ids, ret.Error(1)
}

func (m *MockSubscriberDao) HasAttributes(ctx context.Context, q Queryer) (bool, error) {
	ret := m.Called(ctx, q)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockSubscriberDao) FindConfirmedWithBounces(
	ctx context.Context,
	q Queryer,
) ([]int64, error) {
	ret := m.Called(ctx, q)
	ids, _ := ret.Get(0).([]int64)
	return ids, ret.Error(1)
}

// MockDeliveryStatusDao is a mock implementation of DeliveryStatusDao.
type MockDeliveryStatusDao struct {
	mock.Mock
}

func (m *MockDeliveryStatusDao) MarkActive(
	ctx context.Context,
	q Queryer,
	subscriberID, campaignID, now int64,
) error {
	return m.Called(ctx, q, subscriberID, campaignID, now).Error(0)
}

func (m *MockDeliveryStatusDao) UpdateStatus(
	ctx context.Context,
	q Queryer,
	subscriberID, campaignID int64,
	status models.DeliveryStatus,
	now int64,
) error {
	return m.Called(ctx, q, subscriberID, campaignID, status, now).Error(0)
}

func (m *MockDeliveryStatusDao) Find(
	ctx context.Context,
	q Queryer,
	subscriberID, campaignID int64,
) (*models.DeliveryStatusEntity, error) {
	ret := m.Called(ctx, q, subscriberID, campaignID)
	status, _ := ret.Get(0).(*models.DeliveryStatusEntity)
	return status, ret.Error(1)
}

func (m *MockDeliveryStatusDao) CountRecentlySent(
	ctx context.Context,
	q Queryer,
	since int64,
) (int, error) {
	ret := m.Called(ctx, q, since)
	return ret.Int(0), ret.Error(1)
}

func (m *MockDeliveryStatusDao) CountByStatus(
	ctx context.Context,
	q Queryer,
	campaignID int64,
	status models.DeliveryStatus,
) (int, error) {
	ret := m.Called(ctx, q, campaignID, status)
	return ret.Int(0), ret.Error(1)
}

func (m *MockDeliveryStatusDao) FindSendHistory(
	ctx context.Context,
	q Queryer,
	subscriberID int64,
) ([]SendHistoryRow, error) {
	ret := m.Called(ctx, q, subscriberID)
	history, _ := ret.Get(0).([]SendHistoryRow)
	return history, ret.Error(1)
}

// MockBounceDao is a mock implementation of BounceDao.
type MockBounceDao struct {
	mock.Mock
}

func (m *MockBounceDao) Insert(ctx context.Context, q Queryer, bounce *models.BounceEntity) error {
	return m.Called(ctx, q, bounce).Error(0)
}

func (m *MockBounceDao) UpdateStatus(
	ctx context.Context,
	q Queryer,
	id int64,
	status, comment string,
) error {
	return m.Called(ctx, q, id, status, comment).Error(0)
}

func (m *MockBounceDao) Delete(ctx context.Context, q Queryer, id int64) error {
	return m.Called(ctx, q, id).Error(0)
}

func (m *MockBounceDao) FindUnidentified(
	ctx context.Context,
	q Queryer,
) ([]models.BounceEntity, error) {
	ret := m.Called(ctx, q)
	bounces, _ := ret.Get(0).([]models.BounceEntity)
	return bounces, ret.Error(1)
}

// MockBounceRuleDao is a mock implementation of BounceRuleDao.
type MockBounceRuleDao struct {
	mock.Mock
}

func (m *MockBounceRuleDao) Insert(
	ctx context.Context,
	q Queryer,
	rule *models.BounceRuleEntity,
) error {
	return m.Called(ctx, q, rule).Error(0)
}

func (m *MockBounceRuleDao) FindAllOrdered(
	ctx context.Context,
	q Queryer,
) ([]models.BounceRuleEntity, error) {
	ret := m.Called(ctx, q)
	rules, _ := ret.Get(0).([]models.BounceRuleEntity)
	return rules, ret.Error(1)
}

func (m *MockBounceRuleDao) ExistsByRegex(
	ctx context.Context,
	q Queryer,
	regex string,
) (bool, error) {
	ret := m.Called(ctx, q, regex)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockBounceRuleDao) IncrementMatchCount(ctx context.Context, q Queryer, id int64) error {
	return m.Called(ctx, q, id).Error(0)
}

// MockBounceLinkDao is a mock implementation of BounceLinkDao.
type MockBounceLinkDao struct {
	mock.Mock
}

func (m *MockBounceLinkDao) Insert(
	ctx context.Context,
	q Queryer,
	link *models.BounceLinkEntity,
) error {
	return m.Called(ctx, q, link).Error(0)
}

func (m *MockBounceLinkDao) ExistsPair(
	ctx context.Context,
	q Queryer,
	subscriberID, campaignID int64,
) (bool, error) {
	ret := m.Called(ctx, q, subscriberID, campaignID)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockBounceLinkDao) FindBySubscriber(
	ctx context.Context,
	q Queryer,
	subscriberID int64,
) ([]models.BounceLinkEntity, error) {
	ret := m.Called(ctx, q, subscriberID)
	links, _ := ret.Get(0).([]models.BounceLinkEntity)
	return links, ret.Error(1)
}

// MockProcessLockDao is a mock implementation of ProcessLockDao.
type MockProcessLockDao struct {
	mock.Mock
}

func (m *MockProcessLockDao) Insert(
	ctx context.Context,
	q Queryer,
	lock *models.ProcessLockEntity,
) error {
	return m.Called(ctx, q, lock).Error(0)
}

func (m *MockProcessLockDao) FindByName(
	ctx context.Context,
	q Queryer,
	name string,
) (*models.ProcessLockEntity, error) {
	ret := m.Called(ctx, q, name)
	lock, _ := ret.Get(0).(*models.ProcessLockEntity)
	return lock, ret.Error(1)
}

func (m *MockProcessLockDao) Replace(
	ctx context.Context,
	q Queryer,
	lock *models.ProcessLockEntity,
) error {
	return m.Called(ctx, q, lock).Error(0)
}

func (m *MockProcessLockDao) UpdateHeartbeat(
	ctx context.Context,
	q Queryer,
	name, token string,
	now int64,
) error {
	return m.Called(ctx, q, name, token, now).Error(0)
}

func (m *MockProcessLockDao) DeleteByToken(
	ctx context.Context,
	q Queryer,
	name, token string,
) error {
	return m.Called(ctx, q, name, token).Error(0)
}

// MockSubscriberEventDao is a mock implementation of SubscriberEventDao.
type MockSubscriberEventDao struct {
	mock.Mock
}

func (m *MockSubscriberEventDao) Insert(
	ctx context.Context,
	q Queryer,
	event *models.SubscriberEventEntity,
) error {
	return m.Called(ctx, q, event).Error(0)
}

func (m *MockSubscriberEventDao) FindBySubscriber(
	ctx context.Context,
	q Queryer,
	subscriberID int64,
) ([]models.SubscriberEventEntity, error) {
	ret := m.Called(ctx, q, subscriberID)
	events, _ := ret.Get(0).([]models.SubscriberEventEntity)
	return events, ret.Error(1)
}
