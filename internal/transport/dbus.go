package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	mmBus       = "org.freedesktop.ModemManager1"
	mmRoot      = dbus.ObjectPath("/org/freedesktop/ModemManager1")
	mmModem     = mmBus + ".Modem"
	mmMessaging = mmBus + ".Modem.Messaging"
	mmSMS       = mmBus + ".Sms"

	objectManager = "org.freedesktop.DBus.ObjectManager"
	properties    = "org.freedesktop.DBus.Properties"
)

// DBus talks to ModemManager over the system bus.
type DBus struct {
	conn *dbus.Conn
}

// NewDBus connects to the system bus. The connection is shared with the
// rest of the process and is not closed by the transport.
func NewDBus() (*DBus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &DBus{conn: conn}, nil
}

// ListModems returns the object paths of the modems exported by
// ModemManager, in path order.
func (d *DBus) ListModems(ctx context.Context) ([]string, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := d.conn.Object(mmBus, mmRoot).CallWithContext(ctx, objectManager+".GetManagedObjects", 0)
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("list modems: %w", err)
	}
	return modemPaths(objects), nil
}

// ListMessages returns the SMS object paths stored on modem.
func (d *DBus) ListMessages(ctx context.Context, modem string) ([]string, error) {
	var paths []dbus.ObjectPath
	call := d.conn.Object(mmBus, dbus.ObjectPath(modem)).CallWithContext(ctx, mmMessaging+".List", 0)
	if err := call.Store(&paths); err != nil {
		return nil, fmt.Errorf("list messages on %s: %w", modem, err)
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, string(p))
	}
	return out, nil
}

// ReadMessage reads every property of the SMS object.
func (d *DBus) ReadMessage(ctx context.Context, modem, handle string) (Message, error) {
	var props map[string]dbus.Variant
	call := d.conn.Object(mmBus, dbus.ObjectPath(handle)).CallWithContext(ctx, properties+".GetAll", 0, mmSMS)
	if err := call.Store(&props); err != nil {
		return Message{}, fmt.Errorf("read sms %s: %w", handle, err)
	}
	return messageFromProperties(handle, props)
}

// SendText creates, sends and then deletes an outbound SMS.
func (d *DBus) SendText(ctx context.Context, modem, text, recipient string) error {
	obj := d.conn.Object(mmBus, dbus.ObjectPath(modem))
	params := map[string]dbus.Variant{
		"text":   dbus.MakeVariant(FitText(text)),
		"number": dbus.MakeVariant(recipient),
	}
	var sms dbus.ObjectPath
	if err := obj.CallWithContext(ctx, mmMessaging+".Create", 0, params).Store(&sms); err != nil {
		return fmt.Errorf("create sms: %w", err)
	}
	defer func() {
		if err := d.DeleteMessage(ctx, modem, string(sms)); err != nil {
			log.Printf("dbus: cleanup of sent sms %s failed: %v", sms, err)
		}
	}()

	if err := d.conn.Object(mmBus, sms).CallWithContext(ctx, mmSMS+".Send", 0).Err; err != nil {
		return fmt.Errorf("send sms %s: %w", sms, err)
	}
	return nil
}

// DeleteMessage removes an SMS from the modem.
func (d *DBus) DeleteMessage(ctx context.Context, modem, handle string) error {
	call := d.conn.Object(mmBus, dbus.ObjectPath(modem)).CallWithContext(ctx, mmMessaging+".Delete", 0, dbus.ObjectPath(handle))
	if call.Err != nil {
		return fmt.Errorf("delete sms %s: %w", handle, call.Err)
	}
	return nil
}

func modemPaths(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) []string {
	var modems []string
	for path, ifaces := range objects {
		if _, ok := ifaces[mmModem]; ok {
			modems = append(modems, string(path))
		}
	}
	sort.Strings(modems)
	return modems
}

func messageFromProperties(handle string, props map[string]dbus.Variant) (Message, error) {
	raw := map[string]any{"dbus-path": handle}
	for k, v := range props {
		raw[strings.ToLower(k)] = v.Value()
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Message{}, fmt.Errorf("%w: sms %s: %v", ErrMalformed, handle, err)
	}

	msg := Message{Raw: data}
	if v, ok := props["Number"]; ok {
		msg.Sender, _ = v.Value().(string)
	}
	if v, ok := props["Text"]; ok {
		msg.Text, _ = v.Value().(string)
	}
	return msg, nil
}
