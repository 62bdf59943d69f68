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

// Package bounce turns returned mail into subscriber-state transitions. It pulls raw
// messages from a remote mailbox, classifies them against an ordered rule set and applies
// the resulting actions.
package bounce

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/viper"
)

func init() {
	viper.SetDefault("bounce.mailbox.protocol", "pop3")
	viper.SetDefault("bounce.mailbox.host", "")
	viper.SetDefault("bounce.mailbox.port", 110)
	viper.SetDefault("bounce.mailbox.user", "")
	viper.SetDefault("bounce.mailbox.pass", "")
}

var (
	// ErrUnsupportedProtocol means the configured mailbox protocol is not implemented.
	ErrUnsupportedProtocol = errors.New("bounce: unsupported mailbox protocol")
	// ErrMissingCredentials means host or user are not configured.
	ErrMissingCredentials = errors.New("bounce: mailbox credentials are not configured")
)

// Mailbox is a remote mailbox session holding the returned mail.
type Mailbox interface {
	// List returns the ids of all messages in the mailbox.
	List() ([]int, error)
	// Retrieve returns a complete raw message.
	Retrieve(id int) (string, error)
	// Delete marks a message for deletion. Deletions are committed by Close.
	Delete(id int) error
	// Close ends the session and commits pending deletions.
	Close() error
}

// Dial opens a mailbox session using the configuration from viper. Misconfiguration is
// refused before any connection attempt.
//
// `bounce.mailbox.protocol` selects the protocol, only "pop3" is supported.
// `bounce.mailbox.host`, `bounce.mailbox.port`, `bounce.mailbox.user` and
// `bounce.mailbox.pass` locate the mailbox.
func Dial() (Mailbox, error) {
	protocol := viper.GetString("bounce.mailbox.protocol")
	if protocol != "pop3" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}

	var (
		host = viper.GetString("bounce.mailbox.host")
		port = viper.GetInt("bounce.mailbox.port")
		user = viper.GetString("bounce.mailbox.user")
		pass = viper.GetString("bounce.mailbox.pass")
	)

	if host == "" || user == "" {
		return nil, ErrMissingCredentials
	}

	return dialPop3(net.JoinHostPort(host, strconv.Itoa(port)), user, pass)
}
