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

	"github.com/spf13/pflag"

	"github.com/lukasdietrich/rundbrief/internal/bounce"
	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/locking"
	"github.com/lukasdietrich/rundbrief/internal/log"
)

type processbouncesCommand struct {
	conn      database.Conn
	processor *bounce.Processor
}

func (c *processbouncesCommand) run(args []string) error {
	flags := pflag.NewFlagSet("processbounces", pflag.ContinueOnError)
	force := flags.Bool("force", false, "Take over the process lock even if it seems alive")
	reprocess := flags.Bool("reprocess", false,
		"Classify stored unidentified bounces again instead of fetching new mail")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}

		return err
	}

	defer c.conn.Close()

	opts := bounce.Options{
		Force:     *force,
		Reprocess: *reprocess,
	}

	outcome, err := c.processor.Process(context.Background(), opts)
	if err != nil {
		if errors.Is(err, locking.ErrLockHeld) {
			log.Error().Err(err).
				Msg("another bounce run is active, pass --force to take over")
		}

		return err
	}

	log.Info().
		Int("fetched", outcome.Fetched).
		Int("identified", outcome.Identified).
		Int("unidentified", outcome.Unidentified).
		Int("purged", outcome.Purged).
		Msg("bounce run finished")

	return nil
}
