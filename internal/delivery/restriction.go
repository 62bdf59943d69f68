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
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/rundbrief/internal/log"
)

func init() {
	viper.SetDefault("delivery.queue.restrictionfile", "")
}

// Restriction is an externally imposed sending limit. ISPs on shared hosting drop such a file
// next to the installation; its absence means no restriction.
type Restriction struct {
	// MaxBatch caps the batch size. Zero means unlimited.
	MaxBatch int
	// MinBatchPeriod is a lower bound for the batch period.
	MinBatchPeriod time.Duration
	// Locked suspends sending globally while the configured lockfile exists.
	Locked bool
}

// loadRestriction reads the operator restriction file, if one is configured. The file is a
// plain key=value list with the keys maxbatch, minbatchperiod and lockfile.
func loadRestriction(fs afero.Fs) (Restriction, error) {
	var restriction Restriction

	filename := viper.GetString("delivery.queue.restrictionfile")
	if filename == "" {
		return restriction, nil
	}

	content, err := afero.ReadFile(fs, filename)
	if err != nil {
		// A missing file is not an error, it simply means unrestricted.
		if exists, _ := afero.Exists(fs, filename); !exists {
			return restriction, nil
		}

		return restriction, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := cutKeyValue(line)
		if !found {
			log.Warn().Str("line", line).Msg("skipping malformed restriction line")
			continue
		}

		switch key {
		case "maxbatch":
			restriction.MaxBatch, _ = strconv.Atoi(value)

		case "minbatchperiod":
			seconds, _ := strconv.Atoi(value)
			restriction.MinBatchPeriod = time.Duration(seconds) * time.Second

		case "lockfile":
			locked, err := afero.Exists(fs, value)
			if err != nil {
				return restriction, err
			}

			restriction.Locked = locked

		default:
			log.Warn().Str("key", key).Msg("unknown restriction key")
		}
	}

	return restriction, scanner.Err()
}

func cutKeyValue(line string) (key, value string, found bool) {
	index := strings.IndexRune(line, '=')
	if index < 0 {
		return "", "", false
	}

	return strings.TrimSpace(line[:index]), strings.TrimSpace(line[index+1:]), true
}
