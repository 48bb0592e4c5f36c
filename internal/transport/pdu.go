package transport

import (
	"fmt"
	"strings"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"
	"github.com/warthog618/sms/encoding/tpdu"
)

// deliver is a decoded SMS-DELIVER.
type deliver struct {
	smsc      string
	sender    string
	timestamp string
	text      string
}

var pduStatus = map[string]string{
	"0": "REC UNREAD",
	"1": "REC READ",
	"2": "STO UNSENT",
	"3": "STO SENT",
}

// decodeDeliver parses a hex PDU as returned by AT+CMGR in PDU mode,
// service centre address included.
func decodeDeliver(s string) (deliver, error) {
	p, err := pdumode.UnmarshalHexString(strings.TrimSpace(s))
	if err != nil {
		return deliver{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	t, err := sms.Unmarshal(p.TPDU, sms.AsMT)
	if err != nil {
		return deliver{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if t.SmsType() != tpdu.SmsDeliver {
		return deliver{}, fmt.Errorf("%w: not an SMS-DELIVER", ErrMalformed)
	}
	text, err := sms.Decode([]*tpdu.TPDU{t})
	if err != nil {
		return deliver{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return deliver{
		smsc:      p.SMSC.Number(),
		sender:    t.OA.Number(),
		timestamp: textModeTime(t.SCTS),
		text:      string(text),
	}, nil
}

// textModeTime renders a service centre timestamp the way text mode does,
// e.g. 22/11/07,17:12:36+04 with the zone in quarter hours.
func textModeTime(ts tpdu.Timestamp) string {
	_, offset := ts.Zone()
	sign := "+"
	if offset < 0 {
		sign, offset = "-", -offset
	}
	return ts.Format("06/01/02,15:04:05") + fmt.Sprintf("%s%02d", sign, offset/900)
}
