// Package transport talks to cellular modems: listing modems and pending
// messages, reading, sending and deleting SMS.
//
// Three backends share the same method set: MMCLI drives the mmcli tool,
// DBus speaks to ModemManager directly and Serial issues AT commands on a
// serial port.
package transport

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxTextLength is the longest reply sent in one message.
const MaxTextLength = 160

const ellipsis = "..."

var (
	// ErrModemError is returned when the modem rejects a command.
	ErrModemError = errors.New("modem returned ERROR")
	// ErrTimeout is returned when the modem does not answer in time.
	ErrTimeout = errors.New("modem timeout")
	// ErrMalformed is returned for responses that cannot be parsed.
	ErrMalformed = errors.New("malformed modem response")
)

// Message is one inbound SMS.
type Message struct {
	Sender string `json:"number"`
	Text   string `json:"text"`
	// Raw is the backend's full record of the message, kept for archival.
	Raw json.RawMessage `json:"-"`
}

// Record returns the message as indented JSON, preferring the backend's raw
// record.
func (m Message) Record() []byte {
	if len(m.Raw) > 0 {
		var v any
		if err := json.Unmarshal(m.Raw, &v); err == nil {
			if out, err := json.MarshalIndent(v, "", "    "); err == nil {
				return out
			}
		}
		return m.Raw
	}
	out, _ := json.MarshalIndent(m, "", "    ")
	return out
}

var quoteReplacer = strings.NewReplacer("'", " ", `"`, " ")

// FitText prepares outbound text: anything longer than MaxTextLength
// characters is cut and marked with an ellipsis, and quote characters are
// replaced with spaces.
func FitText(s string) string {
	if utf8.RuneCountInString(s) > MaxTextLength {
		r := []rune(s)
		s = string(r[:MaxTextLength-len(ellipsis)]) + ellipsis
	}
	return quoteReplacer.Replace(s)
}
