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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/locking"
	"github.com/lukasdietrich/rundbrief/internal/log"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

func init() {
	viper.SetDefault("delivery.queue.maxprocessingtime", "0s")
	viper.SetDefault("delivery.queue.alwayscheckdeadline", false)
}

// lockName is the process lock shared by all queue invocations.
const lockName = "processqueue"

var (
	// ErrLockLost means another process preempted the lock mid-run. The invocation must
	// not continue, because the preemptor now owns the queue.
	ErrLockLost = errors.New("delivery: process lock lost")
	// ErrCampaignInterfered means a campaign disappeared or left the inprocess status
	// while sends for it were still in flight.
	ErrCampaignInterfered = errors.New("delivery: campaign no longer in process")
)

// Options control a single queue invocation.
type Options struct {
	// Force preempts a live lock holder.
	Force bool
	// Max caps the subscribers processed this invocation. Small values are scaled to
	// coarse steps, so cautious test runs do not degenerate into one-by-one invocations.
	Max int
}

// Outcome reports what a queue invocation did and whether the caller should re-invoke.
type Outcome struct {
	Stage     Stage
	Campaigns int
	Sent      int
	Failed    int
	Skipped   int
	// Wait asks the caller to pause before the next invocation, because the batch is
	// used up or sending is suspended.
	Wait time.Duration
	// Reload asks the caller to re-invoke, because more work is left.
	Reload bool
}

// Processor drives the campaign send loop. One call to Process is one invocation: it
// acquires the process lock, walks every due campaign and suspends or finishes depending on
// batch budget and deadlines.
type Processor struct {
	conn          database.Conn
	campaignDao   database.CampaignDao
	subscriberDao database.SubscriberDao
	statusDao     database.DeliveryStatusDao
	eventDao      database.SubscriberEventDao

	selector  *Selector
	scheduler *Scheduler
	locker    *locking.Locker
	sender    Sender
	fs        afero.Fs

	maxProcessingTime   time.Duration
	alwaysCheckDeadline bool
	clock               func() time.Time
	sleep               func(time.Duration)
}

// NewProcessor creates a new Processor using the configuration from viper.
//
// `delivery.queue.maxprocessingtime` bounds the wall-clock time of one invocation, zero
// means unbounded.
// `delivery.queue.alwayscheckdeadline` checks the bound before every single send instead of
// between campaigns.
func NewProcessor(
	conn database.Conn,
	campaignDao database.CampaignDao,
	subscriberDao database.SubscriberDao,
	statusDao database.DeliveryStatusDao,
	eventDao database.SubscriberEventDao,
	selector *Selector,
	scheduler *Scheduler,
	locker *locking.Locker,
	sender Sender,
	fs afero.Fs,
) *Processor {
	return &Processor{
		conn:          conn,
		campaignDao:   campaignDao,
		subscriberDao: subscriberDao,
		statusDao:     statusDao,
		eventDao:      eventDao,

		selector:  selector,
		scheduler: scheduler,
		locker:    locker,
		sender:    sender,
		fs:        fs,

		maxProcessingTime:   viper.GetDuration("delivery.queue.maxprocessingtime"),
		alwaysCheckDeadline: viper.GetBool("delivery.queue.alwayscheckdeadline"),
		clock:               time.Now,
		sleep:               time.Sleep,
	}
}

// run is the mutable state of one invocation.
type run struct {
	lock     *locking.Lock
	throttle *Throttle
	outcome  *Outcome

	// remaining is the send budget left, negative means unlimited.
	remaining int
	// campaigns is the number of campaigns in flight, fed into the throttle backoff.
	campaigns int
	deadline  time.Time
	// suspended stops the invocation gracefully, more work is left for the next one.
	suspended bool
}

func (r *run) exhausted() bool {
	return r.remaining == 0
}

func (r *run) consume() {
	if r.remaining > 0 {
		r.remaining--
	}
}

// Process performs one queue invocation.
func (p *Processor) Process(ctx context.Context, opts Options) (*Outcome, error) {
	outcome := &Outcome{Stage: StageIdle}
	ctx = log.WithRun(ctx, uuid.NewString())

	lock, err := p.locker.Acquire(ctx, lockName, opts.Force)
	if err != nil {
		return outcome, err
	}

	defer p.locker.Release(ctx, lock)

	outcome.Stage.advance(StageLocked)

	throttle := NewThrottle()

	restriction, err := loadRestriction(p.fs)
	if err != nil {
		return outcome, err
	}

	if restriction.Locked {
		log.WarnContext(ctx).Msg("sending is suspended by the operator lockfile")
		outcome.Wait = throttle.BatchPeriod(restriction)
		outcome.Reload = true
		return outcome, nil
	}

	batch, wait, err := p.effectiveBatch(ctx, throttle, restriction, opts)
	if err != nil {
		return outcome, err
	}

	if wait {
		log.InfoContext(ctx).Msg("batch is used up, waiting for the next period")
		outcome.Wait = throttle.BatchPeriod(restriction)
		outcome.Reload = true
		return outcome, nil
	}

	campaigns, err := p.campaignDao.FindDue(ctx, p.conn, p.clock().Unix())
	if err != nil {
		return outcome, err
	}

	outcome.Stage.advance(StageCampaignsEnumerated)
	outcome.Campaigns = len(campaigns)

	r := run{
		lock:      lock,
		throttle:  throttle,
		outcome:   outcome,
		remaining: batch,
		campaigns: len(campaigns),
	}

	if r.remaining == 0 {
		r.remaining = -1
	}

	if p.maxProcessingTime > 0 {
		r.deadline = p.clock().Add(p.maxProcessingTime)
	}

	for i := range campaigns {
		if r.suspended || r.exhausted() || p.pastDeadline(&r) {
			outcome.Reload = true
			break
		}

		campaignCtx := log.WithCampaign(ctx, campaigns[i].ID)
		if err := p.processCampaign(campaignCtx, &r, &campaigns[i]); err != nil {
			return outcome, err
		}

		if err := p.heartbeat(ctx, &r); err != nil {
			return outcome, err
		}
	}

	if r.suspended || r.exhausted() {
		outcome.Reload = true
	}

	if !outcome.Reload {
		outcome.Stage.advance(StageDone)
	}

	log.InfoContext(ctx).
		Stringer("stage", outcome.Stage).
		Int("campaigns", outcome.Campaigns).
		Int("sent", outcome.Sent).
		Int("failed", outcome.Failed).
		Int("skipped", outcome.Skipped).
		Bool("reload", outcome.Reload).
		Msg("queue invocation finished")

	return outcome, nil
}

// effectiveBatch combines the throttle batch with the operator --max cap.
func (p *Processor) effectiveBatch(
	ctx context.Context,
	throttle *Throttle,
	restriction Restriction,
	opts Options,
) (batch int, wait bool, err error) {
	since := p.clock().Add(-throttle.BatchPeriod(restriction)).Unix()

	recentlySent, err := p.statusDao.CountRecentlySent(ctx, p.conn, since)
	if err != nil {
		return 0, false, err
	}

	batch, wait = throttle.EffectiveBatch(restriction, recentlySent)
	if wait {
		return 0, true, nil
	}

	if max := scaleMaxOption(opts.Max); max > 0 && (batch == 0 || max < batch) {
		batch = max
	}

	return batch, false, nil
}

// scaleMaxOption snaps a small operator cap down to a coarse step. A cautious test run
// stays tiny instead of landing on an arbitrary in-between size.
func scaleMaxOption(max int) int {
	switch {
	case max <= 0:
		return 0
	case max < 20:
		return 2
	case max < 200:
		return 20
	default:
		return max
	}
}

func (p *Processor) processCampaign(
	ctx context.Context,
	r *run,
	campaign *models.CampaignEntity,
) error {
	if campaign.Status == models.CampaignSubmitted {
		err := p.campaignDao.UpdateStatus(
			ctx, p.conn, campaign.ID, models.CampaignSubmitted, models.CampaignInProcess)
		if err != nil {
			if database.IsErrNoRows(err) {
				log.DebugContext(ctx).Msg("campaign was picked up by another process")
				return nil
			}

			return err
		}

		campaign.Status = models.CampaignInProcess
		p.notify(ctx, campaign.NotifyStart,
			fmt.Sprintf("Campaign started: %s", campaign.Subject),
			fmt.Sprintf("Sending of campaign %d has started.", campaign.ID))
	}

	if campaign.FinishSendingBy.Valid && p.clock().Unix() > campaign.FinishSendingBy.Int64 {
		log.WarnContext(ctx).
			Int64("deadline", campaign.FinishSendingBy.Int64).
			Msg("sending deadline of campaign has passed, not sending any more copies")

		return nil
	}

	limit := 0
	if r.remaining > 0 {
		limit = r.remaining
	}

	subscribers, noEligible, err := p.selector.Select(ctx, campaign, limit)
	if err != nil {
		return err
	}

	r.outcome.Stage.advance(StageCandidatesKnown)

	if noEligible {
		return p.finishCampaign(ctx, campaign, "no eligible subscribers")
	}

	if len(subscribers) == 0 {
		return p.finishCampaign(ctx, campaign, "")
	}

	r.outcome.Stage.advance(StageSubscribersFound)

	failed := 0

	for i := range subscribers {
		if r.exhausted() {
			r.suspended = true
			break
		}

		if p.alwaysCheckDeadline && p.pastDeadline(r) {
			r.suspended = true
			break
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.heartbeat(ctx, r); err != nil {
			return err
		}

		if err := p.ensureInProcess(ctx, campaign.ID); err != nil {
			return err
		}

		subscriberCtx := log.WithSubscriber(ctx, subscribers[i].ID)
		if err := p.sendOne(subscriberCtx, r, campaign, &subscribers[i], len(subscribers)-i); err != nil {
			if errors.Is(err, errSendFailed) {
				failed++
				continue
			}

			return err
		}
	}

	if err := p.campaignDao.Update(ctx, p.conn, campaign); err != nil {
		return err
	}

	if r.suspended || r.exhausted() || failed > 0 {
		// Not done with this campaign yet. Failed pairs were reset to todo and will be
		// retried by the next invocation.
		return nil
	}

	if limit > 0 && len(subscribers) == limit {
		// The batch budget cut the selection short, there may be more eligible
		// subscribers left.
		return nil
	}

	return p.finishCampaign(ctx, campaign, "")
}

// ensureInProcess aborts the invocation if the campaign was suspended or deleted mid-run.
func (p *Processor) ensureInProcess(ctx context.Context, campaignID int64) error {
	campaign, err := p.campaignDao.FindByID(ctx, p.conn, campaignID)
	if err != nil {
		if database.IsErrNoRows(err) {
			return ErrCampaignInterfered
		}

		return err
	}

	if campaign.Status != models.CampaignInProcess {
		return ErrCampaignInterfered
	}

	return nil
}

// errSendFailed marks a recoverable single-copy failure within processCampaign.
var errSendFailed = errors.New("delivery: send failed")

func (p *Processor) sendOne(
	ctx context.Context,
	r *run,
	campaign *models.CampaignEntity,
	subscriber *models.SubscriberEntity,
	remainingInCampaign int,
) error {
	address, err := models.ParseNormalized(subscriber.Email)
	if err != nil {
		log.WarnContext(ctx).
			Err(err).
			Msg("subscriber address failed validation, unconfirming")

		return p.skipInvalid(ctx, campaign, subscriber)
	}

	if !subscriber.Confirmed || subscriber.Disabled {
		r.outcome.Skipped++
		return p.statusDao.UpdateStatus(ctx, p.conn,
			subscriber.ID, campaign.ID, models.StatusUnconfirmed, p.clock().Unix())
	}

	domain := address.Domain()

	if !r.throttle.AllowDomain(domain, r.campaigns, remainingInCampaign) {
		// Deferred, not failed. The pair stays todo and is picked up again once the
		// domain bucket rolls over.
		log.DebugContext(ctx).
			Str("domain", domain).
			Msg("domain is throttled, deferring send")

		r.outcome.Skipped++
		return nil
	}

	err = p.statusDao.MarkActive(ctx, p.conn, subscriber.ID, campaign.ID, p.clock().Unix())
	if err != nil {
		if database.IsErrNoRows(err) {
			// Another invocation reached the pair first.
			r.outcome.Skipped++
			return nil
		}

		return err
	}

	if delay := r.throttle.SendDelay(); delay > 0 {
		p.sleep(delay)
	}

	r.outcome.Stage.advance(StageSendsAttempted)

	if !p.sender.Send(ctx, campaign, subscriber) {
		r.outcome.Failed++

		if resetErr := p.statusDao.UpdateStatus(ctx, p.conn,
			subscriber.ID, campaign.ID, models.StatusTodo, p.clock().Unix()); resetErr != nil {
			return resetErr
		}

		return errSendFailed
	}

	err = p.statusDao.UpdateStatus(ctx, p.conn,
		subscriber.ID, campaign.ID, models.StatusSent, p.clock().Unix())
	if err != nil {
		return err
	}

	r.throttle.NoteSent(domain)
	r.consume()
	r.outcome.Sent++
	campaign.Processed++
	campaign.SentCount++

	return nil
}

// skipInvalid marks the pair invalid and unconfirms the subscriber, breaking the retry loop
// for an address, that can never succeed.
func (p *Processor) skipInvalid(
	ctx context.Context,
	campaign *models.CampaignEntity,
	subscriber *models.SubscriberEntity,
) error {
	now := p.clock().Unix()

	err := p.statusDao.UpdateStatus(ctx, p.conn,
		subscriber.ID, campaign.ID, models.StatusInvalid, now)
	if err != nil {
		return err
	}

	subscriber.Confirmed = false
	if err := p.subscriberDao.Update(ctx, p.conn, subscriber); err != nil {
		return err
	}

	event := models.SubscriberEventEntity{
		SubscriberID: subscriber.ID,
		OccurredAt:   now,
		Summary:      "unconfirmed due to invalid email address",
		Detail:       subscriber.Email,
	}

	return p.eventDao.Insert(ctx, p.conn, &event)
}

// finishCampaign marks a campaign sent, notifies the operator and schedules follow ups.
func (p *Processor) finishCampaign(
	ctx context.Context,
	campaign *models.CampaignEntity,
	reason string,
) error {
	err := p.campaignDao.UpdateStatus(
		ctx, p.conn, campaign.ID, campaign.Status, models.CampaignSent)
	if err != nil {
		if database.IsErrNoRows(err) {
			return ErrCampaignInterfered
		}

		return err
	}

	campaign.Status = models.CampaignSent

	if err := p.campaignDao.Update(ctx, p.conn, campaign); err != nil {
		return err
	}

	log.InfoContext(ctx).
		Int64("sent", campaign.SentCount).
		Str("reason", reason).
		Msg("campaign is sent completely")

	body := fmt.Sprintf("Sending of campaign %d has finished. %d copies were sent.",
		campaign.ID, campaign.SentCount)
	if reason != "" {
		body = fmt.Sprintf("%s (%s)", body, reason)
	}

	p.notify(ctx, campaign.NotifyEnd,
		fmt.Sprintf("Campaign finished: %s", campaign.Subject), body)

	return p.scheduler.ScheduleFollowups(ctx, p.conn, campaign)
}

// notify sends an operator notification to a comma separated address list. Notification
// failures are logged, never fatal.
func (p *Processor) notify(ctx context.Context, addresses sql.NullString, subject, body string) {
	if !addresses.Valid || strings.TrimSpace(addresses.String) == "" {
		return
	}

	var recipients []string
	for _, address := range strings.Split(addresses.String, ",") {
		if address = strings.TrimSpace(address); address != "" {
			recipients = append(recipients, address)
		}
	}

	if err := p.sender.Notify(ctx, recipients, subject, body); err != nil {
		log.WarnContext(ctx).
			Err(err).
			Msg("could not send operator notification")
	}
}

func (p *Processor) heartbeat(ctx context.Context, r *run) error {
	if err := p.locker.Heartbeat(ctx, r.lock); err != nil {
		if database.IsErrNoRows(err) {
			return ErrLockLost
		}

		return err
	}

	return nil
}

func (p *Processor) pastDeadline(r *run) bool {
	return !r.deadline.IsZero() && p.clock().After(r.deadline)
}
