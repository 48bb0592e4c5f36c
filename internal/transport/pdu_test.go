package transport

import (
	"errors"
	"testing"
)

func TestDecodeDeliver(t *testing.T) {
	tests := []struct {
		name, pdu          string
		sender, text, smsc string
	}{
		{"gsm7", helpPDU, "+39000", "HELP", "+393492000200"},
		{"gsm7 extension", "000405919300F000002211707121634005" + "1B1E7EE303", "+39000", "[x]", ""},
		{"ucs2", ucs2PDU("Motion è attivo"), "+39000", "Motion è attivo", ""},
		{"8bit", "000405919300F000042211707121634002" + "4F4B", "+39000", "OK", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decodeDeliver(tt.pdu)
			if err != nil {
				t.Fatal(err)
			}
			if d.sender != tt.sender || d.text != tt.text || d.smsc != tt.smsc {
				t.Fatalf("decoded = %+v", d)
			}
			if d.timestamp != "22/11/07,17:12:36+04" {
				t.Fatalf("timestamp = %q", d.timestamp)
			}
		})
	}
}

func TestDecodeDeliverRejects(t *testing.T) {
	for _, pdu := range []string{
		"zz",
		"0004059193",
		"000105919300F000002211707121634004C822130A",
	} {
		if _, err := decodeDeliver(pdu); !errors.Is(err, ErrMalformed) {
			t.Errorf("decodeDeliver(%q) = %v", pdu, err)
		}
	}
}
