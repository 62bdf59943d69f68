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
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

// pop3Mailbox is a minimal pop3 client as specified in RFC#1939, limited to the commands
// the ingester needs.
type pop3Mailbox struct {
	conn *textproto.Conn
}

// dialPop3 connects, reads the server greeting and authenticates with USER and PASS.
func dialPop3(addr, user, pass string) (*pop3Mailbox, error) {
	conn, err := textproto.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	mailbox := pop3Mailbox{conn: conn}

	if _, err := mailbox.readStatus(); err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := mailbox.exec("USER %s", user); err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := mailbox.exec("PASS %s", pass); err != nil {
		conn.Close()
		return nil, err
	}

	return &mailbox, nil
}

// List implements Mailbox using the multi-line `LIST` command.
func (m *pop3Mailbox) List() ([]int, error) {
	if _, err := m.exec("LIST"); err != nil {
		return nil, err
	}

	lines, err := m.conn.ReadDotLines()
	if err != nil {
		return nil, err
	}

	var ids []int

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}

		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("pop3: malformed scan listing %q", line)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// Retrieve implements Mailbox using `RETR`.
func (m *pop3Mailbox) Retrieve(id int) (string, error) {
	if _, err := m.exec("RETR %d", id); err != nil {
		return "", err
	}

	message, err := m.conn.ReadDotBytes()
	if err != nil {
		return "", err
	}

	return string(message), nil
}

// Delete implements Mailbox using `DELE`.
func (m *pop3Mailbox) Delete(id int) error {
	_, err := m.exec("DELE %d", id)
	return err
}

// Close implements Mailbox. `QUIT` commits the deletions of this session.
func (m *pop3Mailbox) Close() error {
	_, err := m.exec("QUIT")

	if closeErr := m.conn.Close(); err == nil {
		err = closeErr
	}

	return err
}

// exec sends a single command and reads the status line of the reply.
func (m *pop3Mailbox) exec(format string, args ...interface{}) (string, error) {
	if err := m.conn.PrintfLine(format, args...); err != nil {
		return "", err
	}

	return m.readStatus()
}

// readStatus consumes a status line, that every pop3 reply starts with.
func (m *pop3Mailbox) readStatus() (string, error) {
	line, err := m.conn.ReadLine()
	if err != nil {
		return "", err
	}

	switch {
	case strings.HasPrefix(line, "+OK"):
		return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil

	case strings.HasPrefix(line, "-ERR"):
		return "", fmt.Errorf("pop3: %s", strings.TrimSpace(strings.TrimPrefix(line, "-ERR")))
	}

	return "", fmt.Errorf("pop3: unexpected reply %q", line)
}
