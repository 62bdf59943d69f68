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
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

func TestClassifierTestSuite(t *testing.T) {
	suite.Run(t, new(ClassifierTestSuite))
}

type ClassifierTestSuite struct {
	suite.Suite

	ctx        context.Context
	conn       database.Conn
	ruleDao    database.BounceRuleDao
	classifier *Classifier
}

func (s *ClassifierTestSuite) SetupTest() {
	viper.Set("storage.database.filename", ":memory:")
	viper.Set("storage.database.journalmode", "memory")

	conn, err := database.OpenConnection()
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.conn = conn
	s.ruleDao = database.NewBounceRuleDao()
	s.classifier = NewClassifier(conn, s.ruleDao)
}

func (s *ClassifierTestSuite) TearDownTest() {
	s.Require().NoError(s.conn.Close())
}

func (s *ClassifierTestSuite) seedRule(
	regex string,
	action models.BounceRuleAction,
	order int64,
) int64 {
	rule := models.BounceRuleEntity{
		Regex:     regex,
		Action:    action,
		ListOrder: order,
		Status:    models.RuleActive,
	}

	s.Require().NoError(s.ruleDao.Insert(s.ctx, s.conn, &rule))
	return rule.ID
}

func (s *ClassifierTestSuite) countRules() int {
	rules, err := s.ruleDao.FindAllOrdered(s.ctx, s.conn)
	s.Require().NoError(err)
	return len(rules)
}

func (s *ClassifierTestSuite) TestMatchFollowsListOrder() {
	specific := s.seedRule("mailbox unavailable", models.ActionUnconfirmSubscriber, 1)
	s.seedRule("unavailable", models.ActionBlacklistSubscriber, 2)

	rule, err := s.classifier.Classify(s.ctx, "552 Requested action aborted: Mailbox unavailable")
	s.Require().NoError(err)
	s.Require().NotNil(rule)

	s.Assert().Equal(specific, rule.ID)
	s.Assert().Equal(models.ActionUnconfirmSubscriber, rule.Action)
}

func (s *ClassifierTestSuite) TestMatchIsCaseInsensitive() {
	id := s.seedRule("USER UNKNOWN", models.ActionUnconfirmSubscriber, 1)

	rule, err := s.classifier.Classify(s.ctx, "the server said: user unknown")
	s.Require().NoError(err)
	s.Require().NotNil(rule)
	s.Assert().Equal(id, rule.ID)
}

func (s *ClassifierTestSuite) TestMatchFallsBackToRawRegex() {
	// The pattern is not a valid literal match, but works as a regex.
	id := s.seedRule(`user .* does not exist`, models.ActionUnconfirmSubscriber, 1)

	rule, err := s.classifier.Classify(s.ctx, "user anna@example.org does not exist")
	s.Require().NoError(err)
	s.Require().NotNil(rule)
	s.Assert().Equal(id, rule.ID)
}

func (s *ClassifierTestSuite) TestMatchPrefersLiteralReading() {
	// A question mark is a literal character here, not a regex quantifier.
	id := s.seedRule("did you mean anna?", models.ActionUnconfirmSubscriber, 1)

	rule, err := s.classifier.Classify(s.ctx, "host said: did you mean anna?")
	s.Require().NoError(err)
	s.Require().NotNil(rule)
	s.Assert().Equal(id, rule.ID)
}

func (s *ClassifierTestSuite) TestSynthesizes550Candidate() {
	text := "host mx.example.org said:\n" +
		" 550 5.1.1 The email account that you tried to reach does not exist\n"

	rule, err := s.classifier.Classify(s.ctx, text)
	s.Require().NoError(err)
	s.Require().NotNil(rule)

	s.Assert().Equal(models.ActionBlacklistSubscriberAndDeleteBounce, rule.Action)
	s.Assert().Equal(models.RuleCandidate, rule.Status)
	s.Assert().Equal(
		"5.1.1 The email account that you tried to reach does not exist",
		rule.Regex,
	)
}

func (s *ClassifierTestSuite) TestSynthesizes554Candidate() {
	text := " 554 delivery error: this mailbox is disabled for good\n"

	rule, err := s.classifier.Classify(s.ctx, text)
	s.Require().NoError(err)
	s.Require().NotNil(rule)

	s.Assert().Equal(models.ActionUnconfirmSubscriberAndDeleteBounce, rule.Action)
	s.Assert().Equal(models.RuleCandidate, rule.Status)
}

func (s *ClassifierTestSuite) TestSynthesizesCollapsedSpecialCase() {
	rule, err := s.classifier.Classify(s.ctx, " 550 5.1.1 Unknown local subscriber\n")
	s.Require().NoError(err)
	s.Require().NotNil(rule)

	s.Assert().Equal("Unknown local subscriber", rule.Regex)
	s.Assert().Equal(models.ActionBlacklistSubscriberAndDeleteBounce, rule.Action)
}

func (s *ClassifierTestSuite) TestDiscardsShortCandidates() {
	rule, err := s.classifier.Classify(s.ctx, " 550 no such user\n")
	s.Require().NoError(err)

	s.Assert().Nil(rule)
	s.Assert().Zero(s.countRules())
}

func (s *ClassifierTestSuite) TestDiscardsAllWildcardCandidates() {
	// Long enough, but nothing besides addresses survives generalization.
	text := " 550 anna.blocked@example.org bert.blocked@example.org\n"

	rule, err := s.classifier.Classify(s.ctx, text)
	s.Require().NoError(err)

	s.Assert().Nil(rule)
	s.Assert().Zero(s.countRules())
}

func (s *ClassifierTestSuite) TestSynthesizedRuleMatchesFollowingBounces() {
	text := " 550 5.1.1 The email account that you tried to reach does not exist\n"

	first, err := s.classifier.Classify(s.ctx, text)
	s.Require().NoError(err)
	s.Require().NotNil(first)

	second, err := s.classifier.Classify(s.ctx, text)
	s.Require().NoError(err)
	s.Require().NotNil(second)

	s.Assert().Equal(first.ID, second.ID)
	s.Assert().Equal(1, s.countRules())
}

func (s *ClassifierTestSuite) TestDoesNotSynthesizeExistingRegex() {
	s.seedRule("5.1.1 The email account that you tried to reach does not exist",
		models.ActionDeleteBounce, 1)

	rule, err := s.classifier.synthesize(s.ctx,
		" 550 5.1.1 The email account that you tried to reach does not exist\n")
	s.Require().NoError(err)

	s.Assert().Nil(rule)
	s.Assert().Equal(1, s.countRules())
}

func (s *ClassifierTestSuite) TestSynthesizesEachCandidateOncePerRun() {
	text := " 550 5.1.1 The email account that you tried to reach does not exist\n"

	first, err := s.classifier.synthesize(s.ctx, text)
	s.Require().NoError(err)
	s.Require().NotNil(first)

	second, err := s.classifier.synthesize(s.ctx, text)
	s.Require().NoError(err)

	s.Assert().Nil(second)
	s.Assert().Equal(1, s.countRules())
}

func TestGeneralizePattern(t *testing.T) {
	for _, testcase := range []struct {
		name     string
		line     string
		expected string
	}{
		{
			name:     "emails become wildcards",
			line:     "Recipient address rejected: anna@example.org not found",
			expected: "Recipient address rejected: .* not found",
		},
		{
			name:     "bracketed trailers become wildcards",
			line:     "Requested action not taken: mailbox unavailable (in reply to RCPT TO)",
			expected: "Requested action not taken: mailbox unavailable .*",
		},
		{
			name:     "regex metacharacters become single wildcards",
			line:     `Said: "RCPT TO" failed?`,
			expected: "Said: .RCPT TO. failed.",
		},
		{
			name:     "unknown local subscriber collapses to its core",
			line:     "5.1.1 unknown local SUBSCRIBER here",
			expected: "Unknown local subscriber",
		},
		{
			name:     "unknown local part keeps the surrounding phrase",
			line:     "Unknown local part dave in <dave@example.org>",
			expected: "Unknown local part .* in .*",
		},
		{
			name:     "yahoo mta hostnames generalize across pods",
			line:     "delivery error: dd Not a valid recipient - mta4002.mail.ne1.yahoo.com",
			expected: `delivery error: dd Not a valid recipient - mta[0-9]+\.mail\.[a-z0-9]+\.yahoo\.com`,
		},
	} {
		t.Run(testcase.name, func(t *testing.T) {
			assert.Equal(t, testcase.expected, generalizePattern(testcase.line))
		})
	}
}

func TestActionForReplyCode(t *testing.T) {
	assert.Equal(t, models.ActionBlacklistSubscriberAndDeleteBounce, actionForReplyCode("550"))
	assert.Equal(t, models.ActionUnconfirmSubscriberAndDeleteBounce, actionForReplyCode("552"))
	assert.Equal(t, models.ActionUnconfirmSubscriberAndDeleteBounce, actionForReplyCode("554"))
	assert.Equal(t, models.ActionUnconfirmSubscriberAndDeleteBounce, actionForReplyCode("559"))
}
