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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage(t *testing.T) {
	raw := "Subject: failure notice\r\n" +
		"X-ListMember: anna@example.org\r\n" +
		"\r\n" +
		"Hi. This is the mail system.\r\n"

	header, body, err := splitMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, "failure notice", header.Get("Subject"))
	assert.Equal(t, "anna@example.org", header.Get("X-Listmember"))
	assert.Equal(t, "Hi. This is the mail system.\r\n", body)
}

func TestDecodeBody(t *testing.T) {
	for _, tc := range []struct {
		name     string
		encoding string
		body     string
		expected string
	}{
		{
			name:     "passthrough",
			encoding: "7bit",
			body:     "plain text",
			expected: "plain text",
		},
		{
			name:     "quoted-printable",
			encoding: "Quoted-Printable",
			body:     "Unbekannter Empf=C3=A4nger",
			expected: "Unbekannter Empfänger",
		},
		{
			name:     "quoted-printable soft break",
			encoding: "quoted-printable",
			body:     "mailbox =\r\nunavailable",
			expected: "mailbox unavailable",
		},
		{
			name:     "base64",
			encoding: "base64",
			body:     "bWFpbGJveCB1bmF2\r\nYWlsYWJsZQ==",
			expected: "mailbox unavailable",
		},
		{
			name:     "broken base64 passes through",
			encoding: "base64",
			body:     "!!! not base64 !!!",
			expected: "!!! not base64 !!!",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, decodeBody(tc.encoding, tc.body))
		})
	}
}
