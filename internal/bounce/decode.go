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
	"bufio"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"net/textproto"
	"strings"

	"github.com/lukasdietrich/rundbrief/internal/log"
)

// splitMessage separates a raw message into its parsed header and the undecoded body.
func splitMessage(raw string) (textproto.MIMEHeader, string, error) {
	reader := textproto.NewReader(bufio.NewReader(strings.NewReader(raw)))

	header, err := reader.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, "", err
	}

	body, err := io.ReadAll(reader.R)
	if err != nil {
		return nil, "", err
	}

	return header, string(body), nil
}

// decodeBody reverses the transfer encoding of a message body. 7bit, 8bit and binary pass
// through unchanged, as does anything undecodable.
func decodeBody(encoding, body string) string {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body)))
		if err != nil {
			log.Warn().Err(err).Msg("could not decode quoted-printable body")
			return body
		}

		return string(decoded)

	case "base64":
		// Fold away the line breaks base64 bodies are wrapped with.
		compact := strings.Join(strings.Fields(body), "")

		decoded, err := base64.StdEncoding.DecodeString(compact)
		if err != nil {
			log.Warn().Err(err).Msg("could not decode base64 body")
			return body
		}

		return string(decoded)
	}

	return body
}
