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

	"github.com/google/uuid"

	"github.com/lukasdietrich/rundbrief/internal/locking"
	"github.com/lukasdietrich/rundbrief/internal/log"
)

// lockName guards against concurrent bounce runs.
const lockName = "processbounces"

// Options are the per-run flags of a bounce run.
type Options struct {
	// Force takes over a stale or abandoned process lock.
	Force bool
	// Reprocess skips the mailbox and classifies stored unidentified bounces again.
	Reprocess bool
}

// Processor ties one bounce run together. It holds the process lock while the ingester
// and the consecutive-bounce detector do their work.
type Processor struct {
	locker   *locking.Locker
	ingester *Ingester
	detector *Detector
}

// NewProcessor creates a new Processor.
func NewProcessor(locker *locking.Locker, ingester *Ingester, detector *Detector) *Processor {
	return &Processor{
		locker:   locker,
		ingester: ingester,
		detector: detector,
	}
}

// Process runs one full bounce pass.
func (p *Processor) Process(ctx context.Context, opts Options) (*IngestOutcome, error) {
	ctx = log.WithRun(ctx, uuid.NewString())

	lock, err := p.locker.Acquire(ctx, lockName, opts.Force)
	if err != nil {
		return nil, err
	}

	defer p.locker.Release(ctx, lock)

	var outcome *IngestOutcome

	if opts.Reprocess {
		outcome, err = p.ingester.Reprocess(ctx)
	} else {
		outcome, err = p.ingester.Ingest(ctx)
	}

	if err != nil {
		return outcome, err
	}

	if err := p.detector.Scan(ctx, lock); err != nil {
		return outcome, err
	}

	return outcome, nil
}
