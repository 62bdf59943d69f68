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
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/rundbrief/internal/log"
)

func init() {
	viper.SetDefault("delivery.queue.batchsize", 0)
	viper.SetDefault("delivery.queue.batchperiod", "3600s")
	viper.SetDefault("delivery.queue.domainbatchsize", 0)
	viper.SetDefault("delivery.queue.domainbatchperiod", "3600s")
	viper.SetDefault("delivery.queue.throttle", "0s")
}

// blockedAttemptsBeforeBackoff is the number of consecutive domain-throttled attempts after
// which an additional send delay kicks in, provided a single campaign is in flight with a
// small remainder. Spreading out a nearly finished campaign is cheaper than spinning on a
// throttled domain.
const (
	blockedAttemptsBeforeBackoff = 25
	backoffRemainderCutoff       = 1000
	successesToResetBackoff      = 5
)

// domainWindow is the per-domain state of the current throttle bucket. It lives in process
// memory only; rate limiting degrades gracefully across restarts.
type domainWindow struct {
	bucket  int64
	sent    int
	blocked int
}

// Throttle computes per-run batch sizes and gates sends per recipient domain.
type Throttle struct {
	batchSize         int
	batchPeriod       time.Duration
	domainBatchSize   int
	domainBatchPeriod time.Duration
	baseDelay         time.Duration

	extraDelay time.Duration
	successes  int
	domains    map[string]*domainWindow
	clock      func() time.Time
}

// NewThrottle creates a new Throttle using configuration from viper.
//
// `delivery.queue.batchsize` caps sends per batch period, zero means unlimited.
// `delivery.queue.batchperiod` is the sliding window for the batch cap.
// `delivery.queue.domainbatchsize` caps sends per domain per domain period.
// `delivery.queue.domainbatchperiod` is the fixed-width domain bucket.
// `delivery.queue.throttle` is a base delay applied before every send.
func NewThrottle() *Throttle {
	t := Throttle{
		batchSize:         viper.GetInt("delivery.queue.batchsize"),
		batchPeriod:       viper.GetDuration("delivery.queue.batchperiod"),
		domainBatchSize:   viper.GetInt("delivery.queue.domainbatchsize"),
		domainBatchPeriod: viper.GetDuration("delivery.queue.domainbatchperiod"),
		baseDelay:         viper.GetDuration("delivery.queue.throttle"),
		domains:           make(map[string]*domainWindow),
		clock:             time.Now,
	}

	if t.domainBatchSize > 0 && t.domainBatchPeriod <= 0 {
		log.Warn().
			Dur("period", t.domainBatchPeriod).
			Msg("domain batch period must be positive, falling back to one hour")

		t.domainBatchPeriod = time.Hour
	}

	return &t
}

// BatchPeriod returns the effective batch period, which is the configured period raised to
// the externally imposed minimum.
func (t *Throttle) BatchPeriod(restriction Restriction) time.Duration {
	if restriction.MinBatchPeriod > t.batchPeriod {
		return restriction.MinBatchPeriod
	}

	return t.batchPeriod
}

// EffectiveBatch computes how many sends this run may attempt. A zero batch with wait=false
// means unlimited. wait=true means the batch is used up and the caller should pause for
// BatchPeriod before re-invoking.
func (t *Throttle) EffectiveBatch(restriction Restriction, recentlySent int) (batch int, wait bool) {
	unlimited := true

	consider := func(cap int) {
		if unlimited || cap < batch {
			batch = cap
		}

		unlimited = false
	}

	if t.batchSize > 0 {
		consider(t.batchSize)
		consider(t.batchSize - recentlySent)
	}

	if restriction.MaxBatch > 0 {
		consider(restriction.MaxBatch)
	}

	if unlimited {
		return 0, false
	}

	if batch <= 0 {
		return 0, true
	}

	return batch, false
}

// AllowDomain reports whether a send to the domain fits into the current bucket. A blocked
// domain increments the attempt counter and may arm a backoff delay for all subsequent sends
// of this invocation.
func (t *Throttle) AllowDomain(domain string, campaignsInFlight, remaining int) bool {
	if t.domainBatchSize <= 0 {
		return true
	}

	window := t.window(domain)

	if window.sent < t.domainBatchSize {
		return true
	}

	window.blocked++

	if window.blocked > blockedAttemptsBeforeBackoff &&
		campaignsInFlight == 1 &&
		remaining < backoffRemainderCutoff &&
		t.extraDelay == 0 {
		t.extraDelay = t.baseDelay + t.domainBatchPeriod/time.Duration(t.domainBatchSize*4)
		t.successes = 0

		log.Warn().
			Str("domain", domain).
			Dur("extraDelay", t.extraDelay).
			Msg("arming send backoff after repeated domain throttling")
	}

	return false
}

// NoteSent records a successful send to the domain in the current bucket.
func (t *Throttle) NoteSent(domain string) {
	if t.domainBatchSize > 0 {
		t.window(domain).sent++
	}

	if t.extraDelay > 0 {
		t.successes++

		if t.successes >= successesToResetBackoff {
			t.extraDelay = 0
			t.successes = 0
		}
	}
}

// SendDelay is the pause applied before each send attempt.
func (t *Throttle) SendDelay() time.Duration {
	return t.baseDelay + t.extraDelay
}

// window returns the bucket state of a domain, rolling the bucket over if the fixed-width
// time window changed since the last send.
func (t *Throttle) window(domain string) *domainWindow {
	now := t.clock().Unix()
	period := int64(t.domainBatchPeriod.Seconds())
	bucket := now - now%period

	window := t.domains[domain]
	if window == nil {
		window = &domainWindow{bucket: bucket}
		t.domains[domain] = window
	}

	if window.bucket != bucket {
		window.bucket = bucket
		window.sent = 0
	}

	return window
}
