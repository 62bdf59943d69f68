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
	"regexp"
	"strings"

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/log"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

// minCandidateLength guards against synthesizing rules from reply lines so short, the
// resulting pattern would match nearly every bounce.
const minCandidateLength = 25

// Classifier matches bounce text against the ordered rule set and synthesizes candidate
// rules from unmatched smtp reply lines.
type Classifier struct {
	conn    database.Conn
	ruleDao database.BounceRuleDao

	// seen holds the candidates produced during the current run, so one flood of equal
	// bounces creates at most one rule.
	seen map[string]bool
}

// NewClassifier creates a new Classifier.
func NewClassifier(conn database.Conn, ruleDao database.BounceRuleDao) *Classifier {
	return &Classifier{
		conn:    conn,
		ruleDao: ruleDao,
		seen:    make(map[string]bool),
	}
}

// Reset clears the per-run candidate dedup. Call once at the start of every ingestion run.
func (c *Classifier) Reset() {
	c.seen = make(map[string]bool)
}

// Classify returns the highest-priority rule matching the text. If none matches, a candidate
// rule may be synthesized, persisted and returned. A nil rule means the bounce stays
// unidentified.
func (c *Classifier) Classify(ctx context.Context, text string) (*models.BounceRuleEntity, error) {
	rules, err := c.ruleDao.FindAllOrdered(ctx, c.conn)
	if err != nil {
		return nil, err
	}

	for i := range rules {
		if matchRule(rules[i].Regex, text) {
			return &rules[i], nil
		}
	}

	return c.synthesize(ctx, text)
}

// matchRule attempts a case-insensitive, non-greedy, multi-line match, first with the
// pattern escaped to a literal, then with the raw pattern. Operators curate both plain
// phrases and actual regexes, so both readings are tried.
func matchRule(pattern, text string) bool {
	escaped, err := regexp.Compile("(?isU)" + regexp.QuoteMeta(pattern))
	if err == nil && escaped.MatchString(text) {
		return true
	}

	raw, err := regexp.Compile("(?isU)" + pattern)
	return err == nil && raw.MatchString(text)
}

// replyCodeLine recognizes an smtp permanent-failure reply within a bounce body, for example
// " 550 5.1.1 Unknown local subscriber".
var replyCodeLine = regexp.MustCompile(`\s(55[0-9])\s+(\S.*)`)

// synthesize derives a candidate rule from the first 55x reply line of the text. Candidates
// that are too short, generalize to pure wildcards, were already produced this run, or are
// already stored are discarded, in which case the bounce counts as not identified.
func (c *Classifier) synthesize(ctx context.Context, text string) (*models.BounceRuleEntity, error) {
	for _, line := range strings.Split(text, "\n") {
		match := replyCodeLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		code, reply := match[1], match[2]

		if len(reply) < minCandidateLength {
			log.DebugContext(ctx).
				Str("reply", reply).
				Msg("discarding rule candidate, reply line too short")

			return nil, nil
		}

		candidate := generalizePattern(reply)

		if wildcardStripper.Replace(candidate) == "" {
			log.DebugContext(ctx).
				Str("candidate", candidate).
				Msg("discarding rule candidate, pattern is all wildcards")

			return nil, nil
		}

		if c.seen[candidate] {
			return nil, nil
		}

		c.seen[candidate] = true

		exists, err := c.ruleDao.ExistsByRegex(ctx, c.conn, candidate)
		if err != nil || exists {
			return nil, err
		}

		rule := models.BounceRuleEntity{
			Regex:  candidate,
			Action: actionForReplyCode(code),
			Status: models.RuleCandidate,
		}

		if err := c.ruleDao.Insert(ctx, c.conn, &rule); err != nil {
			return nil, err
		}

		log.InfoContext(ctx).
			Int64("rule", rule.ID).
			Str("regex", rule.Regex).
			Str("action", string(rule.Action)).
			Msg("synthesized candidate bounce rule")

		return &rule, nil
	}

	return nil, nil
}

var (
	emailToken   = regexp.MustCompile(`[^\s@<>(){}\[\]"]+@[^\s@<>(){}\[\]"]+`)
	bracketToken = regexp.MustCompile(`\{.*?\}|\(.*?\)|<.*?>|\[.*?\]`)
	metaReplacer = strings.NewReplacer("?", ".", "/", ".", `"`, ".", "(", ".", ")", ".")

	unknownLocalPart = regexp.MustCompile(`(?iU)Unknown local part (.*) in`)
	yahooMTAHost     = regexp.MustCompile(`(?i)mta[0-9]+\.mail\.[a-z0-9]+\.yahoo\.com`)

	// wildcardStripper removes the tokens generalization introduces. A candidate with no
	// literal text left would match nearly everything.
	wildcardStripper = strings.NewReplacer(".*", "", ".", "", " ", "")
)

// generalizePattern turns a concrete reply line into a reusable matching pattern: message
// specific tokens become wildcards, regex metacharacters become single-character wildcards,
// and a few well known server phrasings collapse to their stable core.
func generalizePattern(line string) string {
	line = emailToken.ReplaceAllString(line, ".*")
	line = bracketToken.ReplaceAllString(line, ".*")
	line = metaReplacer.Replace(line)

	if strings.Contains(strings.ToLower(line), "unknown local subscriber") {
		return "Unknown local subscriber"
	}

	line = unknownLocalPart.ReplaceAllString(line, "Unknown local part .* in")
	line = yahooMTAHost.ReplaceAllString(line, `mta[0-9]+\.mail\.[a-z0-9]+\.yahoo\.com`)

	return strings.TrimSpace(line)
}

// actionForReplyCode maps an smtp reply code to the default action of a synthesized rule.
// 550 means the mailbox does not exist at all, anything else merely casts doubt.
func actionForReplyCode(code string) models.BounceRuleAction {
	switch code {
	case "550":
		return models.ActionBlacklistSubscriberAndDeleteBounce

	case "552", "554":
		return models.ActionUnconfirmSubscriberAndDeleteBounce
	}

	return models.ActionUnconfirmSubscriberAndDeleteBounce
}
