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

package bounce

import (
	"context"
	"database/sql"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/log"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

func init() {
	viper.SetDefault("bounce.mailbox.max", 0)
	viper.SetDefault("bounce.purge", false)
	viper.SetDefault("bounce.purgeunprocessed", false)
}

// campaignHintHeaders and subscriberHintHeaders are checked in order, the newer header name
// wins over its legacy alias.
var (
	campaignHintHeaders   = []string{"X-MessageId", "X-Campaign"}
	subscriberHintHeaders = []string{"X-ListMember", "X-User"}
)

// IngestOutcome reports what one bounce run did.
type IngestOutcome struct {
	Fetched      int
	Identified   int
	Unidentified int
	Purged       int
}

// Ingester pulls returned mail from the mailbox, persists every message as a bounce,
// attributes it to a subscriber and campaign and runs the classification.
type Ingester struct {
	conn          database.Conn
	bounceDao     database.BounceDao
	linkDao       database.BounceLinkDao
	campaignDao   database.CampaignDao
	subscriberDao database.SubscriberDao

	classifier *Classifier
	executor   *Executor

	dial             func() (Mailbox, error)
	maxPerRun        int
	purge            bool
	purgeUnprocessed bool
	clock            func() time.Time
}

// NewIngester creates a new Ingester using the configuration from viper.
//
// `bounce.mailbox.max` caps the messages fetched per run, zero means all.
// `bounce.purge` deletes successfully classified messages from the mailbox.
// `bounce.purgeunprocessed` deletes even unidentified messages from the mailbox.
func NewIngester(
	conn database.Conn,
	bounceDao database.BounceDao,
	linkDao database.BounceLinkDao,
	campaignDao database.CampaignDao,
	subscriberDao database.SubscriberDao,
	classifier *Classifier,
	executor *Executor,
) *Ingester {
	return &Ingester{
		conn:          conn,
		bounceDao:     bounceDao,
		linkDao:       linkDao,
		campaignDao:   campaignDao,
		subscriberDao: subscriberDao,

		classifier: classifier,
		executor:   executor,

		dial:             Dial,
		maxPerRun:        viper.GetInt("bounce.mailbox.max"),
		purge:            viper.GetBool("bounce.purge"),
		purgeUnprocessed: viper.GetBool("bounce.purgeunprocessed"),
		clock:            time.Now,
	}
}

// Ingest fetches and processes the mailbox content.
func (i *Ingester) Ingest(ctx context.Context) (*IngestOutcome, error) {
	i.classifier.Reset()

	mailbox, err := i.dial()
	if err != nil {
		return nil, err
	}

	defer mailbox.Close()

	ids, err := mailbox.List()
	if err != nil {
		return nil, err
	}

	if i.maxPerRun > 0 && len(ids) > i.maxPerRun {
		log.InfoContext(ctx).
			Int("mailbox", len(ids)).
			Int("max", i.maxPerRun).
			Msg("capping bounce fetch for this run")

		ids = ids[:i.maxPerRun]
	}

	var outcome IngestOutcome

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return &outcome, err
		}

		raw, err := mailbox.Retrieve(id)
		if err != nil {
			return &outcome, err
		}

		outcome.Fetched++

		identified, err := i.ingestMessage(ctx, raw)
		if err != nil {
			return &outcome, err
		}

		if identified {
			outcome.Identified++
		} else {
			outcome.Unidentified++
		}

		if (identified && i.purge) || (!identified && i.purgeUnprocessed) {
			if err := mailbox.Delete(id); err != nil {
				return &outcome, err
			}

			outcome.Purged++
		}
	}

	log.InfoContext(ctx).
		Int("fetched", outcome.Fetched).
		Int("identified", outcome.Identified).
		Int("unidentified", outcome.Unidentified).
		Int("purged", outcome.Purged).
		Msg("bounce ingestion finished")

	return &outcome, nil
}

// Reprocess runs the classification again over all stored unidentified bounces. New rules
// synthesized since the first attempt may identify them now.
func (i *Ingester) Reprocess(ctx context.Context) (*IngestOutcome, error) {
	i.classifier.Reset()

	bounces, err := i.bounceDao.FindUnidentified(ctx, i.conn)
	if err != nil {
		return nil, err
	}

	outcome := IngestOutcome{Fetched: len(bounces)}

	for idx := range bounces {
		bounce := &bounces[idx]
		bounceCtx := log.WithBounce(ctx, bounce.ID)

		header := parseStoredHeader(bounce.Header)

		identified, err := i.classifyBounce(bounceCtx, bounce, header, bounce.Data)
		if err != nil {
			return &outcome, err
		}

		if identified {
			outcome.Identified++
		} else {
			outcome.Unidentified++
		}
	}

	log.InfoContext(ctx).
		Int("bounces", outcome.Fetched).
		Int("identified", outcome.Identified).
		Msg("bounce reprocessing finished")

	return &outcome, nil
}

// ingestMessage persists one raw message and runs attribution and classification. The
// bounce row is written unconditionally, even when the message is unparseable.
func (i *Ingester) ingestMessage(ctx context.Context, raw string) (bool, error) {
	header, body, err := splitMessage(raw)
	if err != nil {
		log.WarnContext(ctx).Err(err).Msg("bounce message is unparseable, storing as-is")

		header = make(textproto.MIMEHeader)
		body = raw
	}

	body = decodeBody(header.Get("Content-Transfer-Encoding"), body)

	bounce := models.BounceEntity{
		Date:   i.clock().Unix(),
		Header: rawHeaderSection(raw),
		Data:   body,
		Status: models.BounceStatusUnidentified,
	}

	if err := i.bounceDao.Insert(ctx, i.conn, &bounce); err != nil {
		return false, err
	}

	ctx = log.WithBounce(ctx, bounce.ID)

	subscriber, campaignID, err := i.attribute(ctx, header, body)
	if err != nil {
		return false, err
	}

	if subscriber != nil {
		if err := i.linkBounce(ctx, &bounce, subscriber, campaignID); err != nil {
			return false, err
		}
	}

	return i.classifyBounceWithSubscriber(ctx, &bounce, subscriber, bounce.Header+"\n"+body)
}

// attribute resolves the subscriber and campaign a bounce belongs to, using the custom
// headers stamped onto every outbound copy, with a body scan as last resort.
func (i *Ingester) attribute(
	ctx context.Context,
	header textproto.MIMEHeader,
	body string,
) (*models.SubscriberEntity, int64, error) {
	var campaignID int64

	for _, name := range campaignHintHeaders {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			if id, err := strconv.ParseInt(value, 10, 64); err == nil {
				campaignID = id
				break
			}
		}
	}

	for _, name := range subscriberHintHeaders {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			subscriber, err := i.findSubscriber(ctx, value)
			if err != nil {
				return nil, 0, err
			}

			if subscriber != nil {
				return subscriber, campaignID, nil
			}
		}
	}

	// No header hint. Scan the body for the first email shaped token belonging to a known
	// subscriber.
	for _, token := range emailToken.FindAllString(body, -1) {
		subscriber, err := i.findSubscriber(ctx, token)
		if err != nil {
			return nil, 0, err
		}

		if subscriber != nil {
			return subscriber, campaignID, nil
		}
	}

	log.DebugContext(ctx).Msg("bounce could not be attributed to a subscriber")
	return nil, campaignID, nil
}

func (i *Ingester) findSubscriber(
	ctx context.Context,
	email string,
) (*models.SubscriberEntity, error) {
	address, err := models.ParseNormalized(email)
	if err != nil {
		return nil, nil
	}

	subscriber, err := i.subscriberDao.FindByEmail(ctx, i.conn, address.String())
	if err != nil {
		if database.IsErrNoRows(err) {
			return nil, nil
		}

		return nil, err
	}

	return subscriber, nil
}

// linkBounce records the bounce episode. The campaign bounce counter is only incremented
// the first time a (subscriber, campaign) pair bounces.
func (i *Ingester) linkBounce(
	ctx context.Context,
	bounce *models.BounceEntity,
	subscriber *models.SubscriberEntity,
	campaignID int64,
) error {
	link := models.BounceLinkEntity{
		SubscriberID: subscriber.ID,
		BounceID:     bounce.ID,
	}

	if campaignID > 0 {
		if exists, err := i.linkDao.ExistsPair(ctx, i.conn, subscriber.ID, campaignID); err != nil {
			return err
		} else if exists {
			log.DebugContext(ctx).
				Int64("campaign", campaignID).
				Msg("pair already bounced this episode, not counting again")

			return nil
		}

		link.CampaignID = sql.NullInt64{Valid: true, Int64: campaignID}
	}

	if err := i.linkDao.Insert(ctx, i.conn, &link); err != nil {
		return err
	}

	if link.CampaignID.Valid {
		err := i.campaignDao.IncrementBounceCount(ctx, i.conn, campaignID)
		if err != nil && !database.IsErrNoRows(err) {
			return err
		}
	}

	subscriber.BounceCount++
	return i.subscriberDao.Update(ctx, i.conn, subscriber)
}

// classifyBounce re-resolves the subscriber from the stored header before classification.
// Used by Reprocess, where the original attribution is not at hand.
func (i *Ingester) classifyBounce(
	ctx context.Context,
	bounce *models.BounceEntity,
	header textproto.MIMEHeader,
	body string,
) (bool, error) {
	subscriber, _, err := i.attribute(ctx, header, body)
	if err != nil {
		return false, err
	}

	return i.classifyBounceWithSubscriber(ctx, bounce, subscriber, bounce.Header+"\n"+body)
}

func (i *Ingester) classifyBounceWithSubscriber(
	ctx context.Context,
	bounce *models.BounceEntity,
	subscriber *models.SubscriberEntity,
	text string,
) (bool, error) {
	rule, err := i.classifier.Classify(ctx, text)
	if err != nil {
		return false, err
	}

	if rule == nil {
		return false, nil
	}

	deleted, err := i.executor.Execute(ctx, rule, subscriber, bounce)
	if err != nil {
		return false, err
	}

	if !deleted {
		err := i.bounceDao.UpdateStatus(ctx, i.conn, bounce.ID,
			string(rule.Action), fmt.Sprintf("identified by rule %d", rule.ID))
		if err != nil {
			return false, err
		}
	}

	return true, nil
}

// rawHeaderSection returns the undecoded header block of a raw message.
func rawHeaderSection(raw string) string {
	if index := strings.Index(raw, "\r\n\r\n"); index >= 0 {
		return raw[:index]
	}

	if index := strings.Index(raw, "\n\n"); index >= 0 {
		return raw[:index]
	}

	return raw
}

// parseStoredHeader re-parses a header block persisted by a previous run.
func parseStoredHeader(rawHeader string) textproto.MIMEHeader {
	header, _, err := splitMessage(rawHeader + "\n\n")
	if err != nil {
		return make(textproto.MIMEHeader)
	}

	return header
}
