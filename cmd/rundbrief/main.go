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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/rundbrief/internal/log"
)

const usageText = `
Usage:
  rundbrief [OPTIONS] COMMAND [COMMAND OPTIONS]

  Campaign delivery and bounce processing.

Version:
  %s

Commands:
  processqueue    Send due campaigns to their subscribers
  processbounces  Fetch, classify and act on bounced mail

Options:
%s
`

// Version is set at compile-time.
var Version string

func main() {
	var configFilename string

	flags := pflag.NewFlagSet("rundbrief", pflag.ContinueOnError)
	flags.StringVarP(&configFilename, "config", "c", "", "Path to a configuration file")
	flags.Usage = printUsage(flags)

	if err := flags.Parse(os.Args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}

		log.Fatal().Err(err).Msg("could not parse flags")
	}

	switch commandName := flags.Arg(1); commandName {
	case "processqueue", "processbounces":
		setupConfig(configFilename)
		setupLogger()
		printConfig()
		runCommand(commandName, commandArgs(flags))
	default:
		flags.Usage()
	}
}

// commandArgs returns the arguments after the command name, which belong to the command
// itself.
func commandArgs(flags *pflag.FlagSet) []string {
	if args := flags.Args(); len(args) > 2 {
		return args[2:]
	}

	return nil
}

type command interface {
	run(args []string) error
}

func runCommand(commandName string, args []string) {
	var (
		cmd command
		err error
	)

	switch commandName {
	case "processqueue":
		cmd, err = newProcessqueueCommand()
	case "processbounces":
		cmd, err = newProcessbouncesCommand()
	}

	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize the application")
	}

	if err := cmd.run(args); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func printUsage(flags *pflag.FlagSet) func() {
	return func() {
		fmt.Fprintf(os.Stderr, usageText,
			Version,
			flags.FlagUsages())
	}
}

func setupLogger() {
	if err := log.Setup(); err != nil {
		log.Fatal().Err(err).Msg("could not set up the logger")
	}
}

func setupConfig(filename string) {
	viper.SetTypeByDefaultValue(true)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("RUNDBRIEF")

	if filename != "" {
		readConfig(filename)
	} else {
		log.Info().Msg("no config file provided, using environment only")
	}
}

func readConfig(filename string) {
	log.Info().Str("filename", filename).Msg("loading configuration")
	viper.SetConfigFile(filename)

	if err := viper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Warn().Err(err).Msg("configuration file missing")
		} else {
			log.Fatal().Err(err).Msg("could not load configuration")
		}
	}
}

func printConfig() {
	keys := viper.AllKeys()
	sort.Strings(keys)

	for _, key := range keys {
		v, _ := json.Marshal(viper.Get(key))
		log.Debug().Str("key", key).RawJSON("value", v).Msg("config")
	}
}
