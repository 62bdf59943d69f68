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
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func testThrottle() *Throttle {
	return &Throttle{
		batchSize:         10,
		batchPeriod:       time.Hour,
		domainBatchSize:   2,
		domainBatchPeriod: time.Minute,
		baseDelay:         0,
		domains:           make(map[string]*domainWindow),
		clock:             func() time.Time { return time.Unix(600, 0) },
	}
}

func TestEffectiveBatch(t *testing.T) {
	throttle := testThrottle()

	batch, wait := throttle.EffectiveBatch(Restriction{}, 0)
	assert.Equal(t, 10, batch)
	assert.False(t, wait)

	batch, wait = throttle.EffectiveBatch(Restriction{}, 4)
	assert.Equal(t, 6, batch)
	assert.False(t, wait)

	batch, wait = throttle.EffectiveBatch(Restriction{MaxBatch: 3}, 0)
	assert.Equal(t, 3, batch)
	assert.False(t, wait)

	_, wait = throttle.EffectiveBatch(Restriction{}, 10)
	assert.True(t, wait)
}

func TestEffectiveBatchUnlimited(t *testing.T) {
	throttle := testThrottle()
	throttle.batchSize = 0

	batch, wait := throttle.EffectiveBatch(Restriction{}, 12345)
	assert.Zero(t, batch)
	assert.False(t, wait)

	batch, wait = throttle.EffectiveBatch(Restriction{MaxBatch: 7}, 12345)
	assert.Equal(t, 7, batch)
	assert.False(t, wait)
}

func TestBatchPeriodMinimum(t *testing.T) {
	throttle := testThrottle()

	assert.Equal(t, time.Hour, throttle.BatchPeriod(Restriction{}))
	assert.Equal(t, 2*time.Hour,
		throttle.BatchPeriod(Restriction{MinBatchPeriod: 2 * time.Hour}))
}

func TestDomainBucketCap(t *testing.T) {
	throttle := testThrottle()

	// The invariant: within one bucket at most domainBatchSize sends per domain.
	for i := 0; i < 2; i++ {
		assert.True(t, throttle.AllowDomain("example.com", 2, 5000))
		throttle.NoteSent("example.com")
	}

	assert.False(t, throttle.AllowDomain("example.com", 2, 5000))
	assert.True(t, throttle.AllowDomain("elsewhere.org", 2, 5000))
}

func TestDomainBucketRollover(t *testing.T) {
	throttle := testThrottle()

	throttle.NoteSent("example.com")
	throttle.NoteSent("example.com")
	assert.False(t, throttle.AllowDomain("example.com", 2, 5000))

	throttle.clock = func() time.Time { return time.Unix(661, 0) }
	assert.True(t, throttle.AllowDomain("example.com", 2, 5000))
}

func TestBackoffArmsAfterRepeatedBlocking(t *testing.T) {
	throttle := testThrottle()

	throttle.NoteSent("example.com")
	throttle.NoteSent("example.com")

	for i := 0; i <= blockedAttemptsBeforeBackoff; i++ {
		assert.False(t, throttle.AllowDomain("example.com", 1, 500))
	}

	expected := throttle.domainBatchPeriod / time.Duration(throttle.domainBatchSize*4)
	assert.Equal(t, expected, throttle.SendDelay())

	// Five successful sends in a row disarm the backoff again.
	for i := 0; i < successesToResetBackoff; i++ {
		throttle.NoteSent("elsewhere.org")
	}

	assert.Zero(t, throttle.SendDelay())
}

func TestZeroDomainPeriodIsClamped(t *testing.T) {
	viper.Set("delivery.queue.domainbatchsize", 2)
	viper.Set("delivery.queue.domainbatchperiod", "0s")
	defer viper.Set("delivery.queue.domainbatchsize", 0)
	defer viper.Set("delivery.queue.domainbatchperiod", "3600s")

	throttle := NewThrottle()
	assert.Equal(t, time.Hour, throttle.domainBatchPeriod)

	// The bucket arithmetic must not divide by a zero period.
	assert.True(t, throttle.AllowDomain("example.com", 1, 500))
}

func TestBackoffRequiresSingleCampaign(t *testing.T) {
	throttle := testThrottle()

	throttle.NoteSent("example.com")
	throttle.NoteSent("example.com")

	for i := 0; i <= blockedAttemptsBeforeBackoff; i++ {
		throttle.AllowDomain("example.com", 2, 500)
	}

	assert.Zero(t, throttle.SendDelay())
}
