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

package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/pflag"

	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/delivery"
	"github.com/lukasdietrich/rundbrief/internal/locking"
	"github.com/lukasdietrich/rundbrief/internal/log"
)

type processqueueCommand struct {
	conn      database.Conn
	processor *delivery.Processor
}

// queueProcessor is the part of delivery.Processor the drain loop needs.
type queueProcessor interface {
	Process(context.Context, delivery.Options) (*delivery.Outcome, error)
}

func (c *processqueueCommand) run(args []string) error {
	flags := pflag.NewFlagSet("processqueue", pflag.ContinueOnError)
	force := flags.Bool("force", false, "Take over the process lock even if it seems alive")
	max := flags.Int("max", 0, "Cap the number of subscribers processed this run")
	reload := flags.Bool("reload", false, "Keep invoking the queue until it is drained")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}

		return err
	}

	defer c.conn.Close()

	opts := delivery.Options{
		Force: *force,
		Max:   *max,
	}

	return drainQueue(context.Background(), c.processor, opts, *reload, time.Sleep)
}

// drainQueue invokes the queue until it reports no more work. Without reload a single
// invocation is performed and the operator is told how to continue.
func drainQueue(
	ctx context.Context,
	processor queueProcessor,
	opts delivery.Options,
	reload bool,
	sleep func(time.Duration),
) error {
	for {
		outcome, err := processor.Process(ctx, opts)
		if err != nil {
			if errors.Is(err, locking.ErrLockHeld) {
				log.Error().Err(err).
					Msg("another queue run is active, pass --force to take over")
			}

			return err
		}

		if !outcome.Reload {
			return nil
		}

		if !reload {
			log.Info().Msg("more work is left, run again or pass --reload")
			return nil
		}

		if outcome.Wait > 0 {
			log.Info().
				Dur("wait", outcome.Wait).
				Msg("waiting before the next queue invocation")

			sleep(outcome.Wait)
		}
	}
}
