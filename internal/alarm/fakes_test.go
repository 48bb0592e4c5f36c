package alarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"rpi4-alarm/internal/host"
	"rpi4-alarm/internal/transport"
)

const trusted = "+390000000000"

type sentSMS struct {
	modem, text, to string
}

// fakeTransport serves messages from memory and records every call in
// events so tests can check ordering.
type fakeTransport struct {
	modems    []string
	listErr   error
	handles   map[string][]string
	inbox     map[string]transport.Message
	readErr   error
	deleteErr error
	sendErr   error

	sent    []sentSMS
	deleted []string
	events  *[]string
}

func newFakeTransport(events *[]string) *fakeTransport {
	return &fakeTransport{
		handles: map[string][]string{},
		inbox:   map[string]transport.Message{},
		events:  events,
	}
}

func (f *fakeTransport) add(modem, handle, sender, text string) {
	if !contains(f.modems, modem) {
		f.modems = append(f.modems, modem)
	}
	f.handles[modem] = append(f.handles[modem], handle)
	f.inbox[handle] = transport.Message{Sender: sender, Text: text}
}

func (f *fakeTransport) log(format string, args ...any) {
	if f.events != nil {
		*f.events = append(*f.events, fmt.Sprintf(format, args...))
	}
}

func (f *fakeTransport) ListModems(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.modems, nil
}

func (f *fakeTransport) ListMessages(_ context.Context, modem string) ([]string, error) {
	return f.handles[modem], nil
}

func (f *fakeTransport) ReadMessage(_ context.Context, _, handle string) (transport.Message, error) {
	f.log("read %s", handle)
	if f.readErr != nil {
		return transport.Message{}, f.readErr
	}
	msg, ok := f.inbox[handle]
	if !ok {
		return transport.Message{}, errors.New("no such message")
	}
	return msg, nil
}

func (f *fakeTransport) SendText(_ context.Context, modem, text, to string) error {
	f.log("send %s", text)
	f.sent = append(f.sent, sentSMS{modem: modem, text: text, to: to})
	return f.sendErr
}

func (f *fakeTransport) DeleteMessage(_ context.Context, _, handle string) error {
	f.log("delete %s", handle)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, handle)
	return nil
}

func (f *fakeTransport) texts() []string {
	var out []string
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

type fakeTelemetry struct {
	pct       int
	pctErr    error
	mv        int
	mvErr     error
	panicWith string
}

func (f *fakeTelemetry) BatteryPercentage(context.Context) (int, error) {
	if f.panicWith != "" {
		panic(f.panicWith)
	}
	return f.pct, f.pctErr
}

func (f *fakeTelemetry) InputVoltage(context.Context) (int, error) {
	return f.mv, f.mvErr
}

type notification struct {
	subject, body, attachment string
}

type fakeNotifier struct {
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, subject, body, attachment string) {
	f.sent = append(f.sent, notification{subject, body, attachment})
}

type fakeServices struct {
	status    int
	queried   []string
	panicWith string
}

func (f *fakeServices) Status(_ context.Context, unit string) int {
	if f.panicWith != "" {
		panic(f.panicWith)
	}
	f.queried = append(f.queried, unit)
	return f.status
}

func (f *fakeServices) Active(ctx context.Context, unit string) bool {
	return f.Status(ctx, unit) == host.StatusActive
}

type fakeCamera struct {
	code    int
	photos  []string
	videos  []string
	seconds []int
}

func (f *fakeCamera) Photo(_ context.Context, path string) int {
	f.photos = append(f.photos, path)
	return f.code
}

func (f *fakeCamera) Video(_ context.Context, path string, seconds int) int {
	f.videos = append(f.videos, path)
	f.seconds = append(f.seconds, seconds)
	return f.code
}

type fakeRunner struct {
	calls  [][]string
	events *[]string
}

func (f *fakeRunner) Run(_ context.Context, args ...string) host.Result {
	f.calls = append(f.calls, args)
	if f.events != nil {
		*f.events = append(*f.events, "run "+strings.Join(args, " "))
	}
	return host.Result{Args: args, Stdout: "ok\n"}
}

type harness struct {
	events    []string
	transport *fakeTransport
	telemetry *fakeTelemetry
	notifier  *fakeNotifier
	services  *fakeServices
	camera    *fakeCamera
	runner    *fakeRunner
	logDir    string
	d         *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		telemetry: &fakeTelemetry{pct: 87, mv: 5000},
		notifier:  &fakeNotifier{},
		services:  &fakeServices{status: host.StatusInactive},
		camera:    &fakeCamera{},
		logDir:    t.TempDir(),
	}
	h.transport = newFakeTransport(&h.events)
	h.runner = &fakeRunner{events: &h.events}
	h.d = NewDispatcher(Options{
		Name:          "RPI4 Alarm",
		TrustedPhone:  trusted,
		AlarmService:  "rpi4-alarm",
		MotionService: "motion",
	}, Deps{
		Transport: h.transport,
		Telemetry: h.telemetry,
		Notifier:  h.notifier,
		Services:  h.services,
		Camera:    h.camera,
		Runner:    h.runner,
		Artifacts: host.NewArtifacts(h.logDir),
	})
	h.d.now = func() time.Time { return time.Date(2024, 3, 1, 10, 20, 30, 0, time.Local) }
	return h
}

// process stores one message from sender and dispatches it.
func (h *harness) process(sender, text string) Outcome {
	h.transport.add("modem0", "sms0", sender, text)
	return h.d.Process(context.Background(), "modem0", "sms0")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
