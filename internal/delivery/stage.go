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

// Stage marks how far one queue invocation progressed. Within one invocation the stage never
// decreases. It is reported for diagnostics and used by the caller to decide whether to
// re-invoke the queue.
type Stage int

const (
	// StageIdle is the initial stage before any work happened.
	StageIdle Stage = iota
	// StageLocked means the process lock is held.
	StageLocked
	// StageCampaignsEnumerated means the due campaigns are known.
	StageCampaignsEnumerated
	// StageCandidatesKnown means the attribute-filtered subscriber set is known.
	StageCandidatesKnown
	// StageSubscribersFound means at least one subscriber was identified.
	StageSubscribersFound
	// StageSendsAttempted means at least one send was attempted. The batch may be
	// exhausted, so the caller should re-invoke.
	StageSendsAttempted
	// StageDone means no more work is left for this invocation.
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageLocked:
		return "locked"
	case StageCampaignsEnumerated:
		return "campaigns enumerated"
	case StageCandidatesKnown:
		return "candidates known"
	case StageSubscribersFound:
		return "subscribers found"
	case StageSendsAttempted:
		return "sends attempted"
	case StageDone:
		return "done"
	}

	return "unknown"
}

// advance raises the stage to at least next. Stages never regress.
func (s *Stage) advance(next Stage) {
	if next > *s {
		*s = next
	}
}
