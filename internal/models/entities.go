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

package models

import (
	"database/sql"
)

// CampaignStatus is the scheduling state of a campaign.
type CampaignStatus string

const (
	// CampaignDraft is a campaign, that is still being edited.
	CampaignDraft CampaignStatus = "draft"
	// CampaignSubmitted is a campaign, that is scheduled but not yet picked up.
	CampaignSubmitted CampaignStatus = "submitted"
	// CampaignInProcess is a campaign, that is currently being sent.
	CampaignInProcess CampaignStatus = "inprocess"
	// CampaignSuspended is a campaign, that an operator paused mid-send.
	CampaignSuspended CampaignStatus = "suspended"
	// CampaignSent is a campaign, that has been sent to every eligible subscriber.
	CampaignSent CampaignStatus = "sent"
)

// CampaignEntity is the entity for the "campaigns" table.
type CampaignEntity struct {
	ID              int64          `db:"id"`
	Subject         string         `db:"subject"`
	Body            string         `db:"body"`
	Status          CampaignStatus `db:"status"`
	Embargo         sql.NullInt64  `db:"embargo"`
	FinishSendingBy sql.NullInt64  `db:"finish_sending_by"`
	RepeatInterval  int64          `db:"repeat_interval"`
	RepeatUntil     sql.NullInt64  `db:"repeat_until"`
	RequeueInterval int64          `db:"requeue_interval"`
	RequeueUntil    sql.NullInt64  `db:"requeue_until"`
	SelectionQuery  sql.NullString `db:"selection_query"`
	Processed       int64          `db:"processed"`
	SentCount       int64          `db:"sent_count"`
	BounceCount     int64          `db:"bounce_count"`
	NotifyStart     sql.NullString `db:"notify_start"`
	NotifyEnd       sql.NullString `db:"notify_end"`
}

// SubscriberEntity is the entity for the "subscribers" table.
type SubscriberEntity struct {
	ID          int64  `db:"id"`
	Email       string `db:"email"`
	UniqueID    string `db:"unique_id"`
	Confirmed   bool   `db:"confirmed"`
	Blacklisted bool   `db:"blacklisted"`
	Disabled    bool   `db:"disabled"`
	HTMLEmail   bool   `db:"html_email"`
	BounceCount int64  `db:"bounce_count"`
}

// ListEntity is the entity for the "lists" table.
type ListEntity struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// ListSubscriptionEntity is the entity for the "list_subscriptions" table.
type ListSubscriptionEntity struct {
	ListID       int64 `db:"list_id"`
	SubscriberID int64 `db:"subscriber_id"`
}

// CampaignListEntity is the entity for the "campaign_lists" table. A campaign targets all its
// non-exclude lists and skips every subscriber found on an exclude list.
type CampaignListEntity struct {
	CampaignID int64 `db:"campaign_id"`
	ListID     int64 `db:"list_id"`
	Exclude    bool  `db:"exclude"`
}

// DeliveryStatus is the send-state of one subscriber for one campaign. Transitions are
// monotonic: todo -> active -> terminal. The single exception is the retry reset of a failed
// send from active back to todo.
type DeliveryStatus string

const (
	// StatusTodo marks a pair, that has been considered but not attempted.
	StatusTodo DeliveryStatus = "todo"
	// StatusActive marks a pair with a send attempt in flight.
	StatusActive DeliveryStatus = "active"
	// StatusSent marks a successfully transmitted send.
	StatusSent DeliveryStatus = "sent"
	// StatusNotSent marks a pair, that was deliberately skipped.
	StatusNotSent DeliveryStatus = "not sent"
	// StatusUnconfirmed marks a pair skipped because the subscriber is not confirmed or
	// disabled.
	StatusUnconfirmed DeliveryStatus = "unconfirmed subscriber"
	// StatusInvalid marks a pair skipped because the email address failed validation.
	StatusInvalid DeliveryStatus = "invalid email address"
	// StatusExcluded marks a pair excluded by an exclude list.
	StatusExcluded DeliveryStatus = "excluded"
)

// DeliveryStatusEntity is the entity for the "delivery_status" table.
type DeliveryStatusEntity struct {
	SubscriberID int64          `db:"subscriber_id"`
	CampaignID   int64          `db:"campaign_id"`
	Status       DeliveryStatus `db:"status"`
	EnteredAt    int64          `db:"entered_at"`
}

// BounceStatusUnidentified is the status of a bounce, that no rule matched. Such bounces are
// kept for later reprocessing.
const BounceStatusUnidentified = "unidentified bounce"

// BounceEntity is the entity for the "bounces" table. Header and Data hold the raw message,
// Data after transfer-encoding decoding.
type BounceEntity struct {
	ID      int64  `db:"id"`
	Date    int64  `db:"date"`
	Header  string `db:"header"`
	Data    string `db:"data"`
	Status  string `db:"status"`
	Comment string `db:"comment"`
}

// BounceRuleAction is the subscriber-state effect of a matched bounce rule.
type BounceRuleAction string

const (
	// ActionDeleteSubscriber removes the subscriber entirely.
	ActionDeleteSubscriber BounceRuleAction = "deletesubscriber"
	// ActionUnconfirmSubscriber sets confirmed to false.
	ActionUnconfirmSubscriber BounceRuleAction = "unconfirmsubscriber"
	// ActionBlacklistSubscriber blacklists the subscriber.
	ActionBlacklistSubscriber BounceRuleAction = "blacklistsubscriber"
	// ActionDeleteBounce removes only the bounce row.
	ActionDeleteBounce BounceRuleAction = "deletebounce"
	// ActionDeleteSubscriberAndBounce removes both the subscriber and the bounce row.
	ActionDeleteSubscriberAndBounce BounceRuleAction = "deletesubscriberandbounce"
	// ActionUnconfirmSubscriberAndDeleteBounce unconfirms the subscriber and removes the
	// bounce row.
	ActionUnconfirmSubscriberAndDeleteBounce BounceRuleAction = "unconfirmsubscriberanddeletebounce"
	// ActionBlacklistSubscriberAndDeleteBounce blacklists the subscriber and removes the
	// bounce row.
	ActionBlacklistSubscriberAndDeleteBounce BounceRuleAction = "blacklistsubscriberanddeletebounce"
)

// BounceRuleStatus separates operator curated rules from synthesized candidates.
type BounceRuleStatus string

const (
	// RuleActive is a rule curated by an operator.
	RuleActive BounceRuleStatus = "active"
	// RuleCandidate is a rule synthesized from an unmatched bounce.
	RuleCandidate BounceRuleStatus = "candidate"
)

// BounceRuleEntity is the entity for the "bounce_rules" table. Rules are evaluated in
// ascending ListOrder.
type BounceRuleEntity struct {
	ID         int64            `db:"id"`
	Regex      string           `db:"regex"`
	Action     BounceRuleAction `db:"action"`
	ListOrder  int64            `db:"list_order"`
	Status     BounceRuleStatus `db:"status"`
	MatchCount int64            `db:"match_count"`
}

// BounceLinkEntity is the entity for the "bounce_links" table. A pair of subscriber and
// campaign is linked at most once per bounce episode to avoid double counting.
type BounceLinkEntity struct {
	ID           int64         `db:"id"`
	SubscriberID int64         `db:"subscriber_id"`
	CampaignID   sql.NullInt64 `db:"campaign_id"`
	BounceID     int64         `db:"bounce_id"`
}

// ProcessLockEntity is the entity for the "process_locks" table. At most one row exists per
// name. Forced acquisition replaces the token, which invalidates the previous holder.
type ProcessLockEntity struct {
	Name          string `db:"name"`
	Token         string `db:"token"`
	StartedAt     int64  `db:"started_at"`
	LastHeartbeat int64  `db:"last_heartbeat"`
}

// SubscriberEventEntity is the entity for the "subscriber_events" table. Events form the
// audit history of automatic subscriber-state changes.
type SubscriberEventEntity struct {
	ID           int64  `db:"id"`
	SubscriberID int64  `db:"subscriber_id"`
	OccurredAt   int64  `db:"occurred_at"`
	Summary      string `db:"summary"`
	Detail       string `db:"detail"`
}

// SubscriberAttributeEntity is the entity for the "subscriber_attributes" table. Attributes
// are free-form key/value pairs, that selection queries filter on.
type SubscriberAttributeEntity struct {
	SubscriberID int64  `db:"subscriber_id"`
	Name         string `db:"name"`
	Value        string `db:"value"`
}
