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
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/rundbrief/internal/log"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

func init() {
	viper.SetDefault("delivery.smtp.relay.address", "localhost:25")
	viper.SetDefault("delivery.smtp.helo", "localhost")
	viper.SetDefault("delivery.notify.from", "newsletter@localhost")
}

// Sender submits campaign copies and operator notifications for delivery.
type Sender interface {
	// Send submits one copy of a campaign addressed to a subscriber. It reports whether
	// the relay accepted the copy. A refused copy may be attempted again later.
	Send(ctx context.Context, campaign *models.CampaignEntity, subscriber *models.SubscriberEntity) bool
	// Notify sends a plain notification mail to a list of operator addresses.
	Notify(ctx context.Context, recipients []string, subject, body string) error
}

// Courier is a Sender, that submits mails to a single configured smtp relay.
type Courier struct {
	relay string
	helo  string
	from  string
}

// NewCourier creates a new Courier using the configuration from viper.
//
// `delivery.smtp.relay.address` is the host and port of the smtp relay.
// `delivery.smtp.helo` is the hostname to greet the relay with.
// `delivery.notify.from` is the sender address of all outbound mails.
func NewCourier() *Courier {
	return &Courier{
		relay: viper.GetString("delivery.smtp.relay.address"),
		helo:  viper.GetString("delivery.smtp.helo"),
		from:  viper.GetString("delivery.notify.from"),
	}
}

// Send implements Sender.
func (c *Courier) Send(
	ctx context.Context,
	campaign *models.CampaignEntity,
	subscriber *models.SubscriberEntity,
) bool {
	msg := c.composeCampaignCopy(campaign, subscriber)

	if err := c.submit(c.from, []string{subscriber.Email}, msg); err != nil {
		log.WarnContext(ctx).
			Str("relay", c.relay).
			Bool("permanent", isPermanentSubmitErr(err)).
			Err(err).
			Msg("could not submit campaign copy")

		return false
	}

	return true
}

// Notify implements Sender.
func (c *Courier) Notify(ctx context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return nil
	}

	var msg bytes.Buffer

	writeHeader(&msg, "From", c.from)
	writeHeader(&msg, "To", recipients[0])
	writeHeader(&msg, "Subject", subject)
	writeHeader(&msg, "Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader(&msg, "Message-Id", c.randomMessageID())
	writeHeader(&msg, "MIME-Version", "1.0")
	writeHeader(&msg, "Content-Type", `text/plain; charset="utf-8"`)

	fmt.Fprintf(&msg, "\r\n%s\r\n", body)

	return c.submit(c.from, recipients, msg.Bytes())
}

// composeCampaignCopy renders the mail for a single subscriber. The copy carries custom
// headers identifying the campaign and the subscriber, so bounces can be attributed later
// without parsing the original body.
func (c *Courier) composeCampaignCopy(
	campaign *models.CampaignEntity,
	subscriber *models.SubscriberEntity,
) []byte {
	var msg bytes.Buffer

	writeHeader(&msg, "From", c.from)
	writeHeader(&msg, "To", subscriber.Email)
	writeHeader(&msg, "Subject", campaign.Subject)
	writeHeader(&msg, "Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader(&msg, "Message-Id", c.randomMessageID())
	writeHeader(&msg, "X-MessageId", strconv.FormatInt(campaign.ID, 10))
	writeHeader(&msg, "X-ListMember", subscriber.Email)
	writeHeader(&msg, "MIME-Version", "1.0")

	if subscriber.HTMLEmail {
		writeHeader(&msg, "Content-Type", `text/html; charset="utf-8"`)
	} else {
		writeHeader(&msg, "Content-Type", `text/plain; charset="utf-8"`)
	}

	fmt.Fprintf(&msg, "\r\n%s\r\n", campaign.Body)

	return msg.Bytes()
}

func (c *Courier) randomMessageID() string {
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), c.helo)
}

func writeHeader(msg *bytes.Buffer, name, value string) {
	fmt.Fprintf(msg, "%s: %s\r\n", name, value)
}

// submit performs a single smtp transaction with the relay.
func (c *Courier) submit(from string, recipients []string, msg []byte) error {
	client, err := smtp.Dial(c.relay)
	if err != nil {
		return err
	}

	defer client.Close()

	if err := c.initClient(client); err != nil {
		return err
	}

	if err := client.Mail(from); err != nil {
		return err
	}

	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	if _, err := w.Write(msg); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

// initClient says hello to the relay and upgrades to tls, if available.
func (c *Courier) initClient(client *smtp.Client) error {
	if err := client.Hello(c.helo); err != nil {
		return err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		host, _, err := net.SplitHostPort(c.relay)
		if err != nil {
			host = c.relay
		}

		config := tls.Config{
			ServerName: host,
		}

		return client.StartTLS(&config)
	}

	return nil
}

// isPermanentSubmitErr tests if an error is an smtp error with a 5xx code.
func isPermanentSubmitErr(err error) bool {
	var protoError *textproto.Error
	if errors.As(err, &protoError) {
		return protoError.Code >= 500 && protoError.Code < 600
	}

	return false
}
