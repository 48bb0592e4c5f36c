// Package alarm implements the SMS command protocol: reading each pending
// message, authenticating its sender, running the requested command,
// replying and deleting the message, and driving that from a poll loop.
package alarm

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"rpi4-alarm/internal/debuglog"
	"rpi4-alarm/internal/host"
	"rpi4-alarm/internal/transport"
)

// Transport is the modem access used by the dispatcher and the poller.
type Transport interface {
	ListModems(ctx context.Context) ([]string, error)
	ListMessages(ctx context.Context, modem string) ([]string, error)
	ReadMessage(ctx context.Context, modem, handle string) (transport.Message, error)
	SendText(ctx context.Context, modem, text, recipient string) error
	DeleteMessage(ctx context.Context, modem, handle string) error
}

// Telemetry reads the UPS fuel gauge.
type Telemetry interface {
	BatteryPercentage(ctx context.Context) (int, error)
	InputVoltage(ctx context.Context) (int, error)
}

// Notifier sends email. It never reports failure.
type Notifier interface {
	Notify(ctx context.Context, subject, body, attachment string)
}

// Services queries systemd units.
type Services interface {
	Status(ctx context.Context, unit string) int
	Active(ctx context.Context, unit string) bool
}

// Camera captures media and returns the tool's exit status.
type Camera interface {
	Photo(ctx context.Context, path string) int
	Video(ctx context.Context, path string, seconds int) int
}

// Runner executes deferred actions.
type Runner interface {
	Run(ctx context.Context, args ...string) host.Result
}

// Artifacts names and stores files in the log directory.
type Artifacts interface {
	Reserve(prefix, suffix string) string
	Write(prefix, suffix string, data []byte) (string, error)
}

// Action is a host command run only after its message has been deleted.
type Action struct {
	Args []string
}

func (a *Action) String() string {
	if a == nil {
		return "none"
	}
	return strings.Join(a.Args, " ")
}

// Options are the static dispatcher settings.
type Options struct {
	Name          string
	TrustedPhone  string
	AlarmService  string
	MotionService string
	Grammar       Grammar
}

// Deps are the collaborators a Dispatcher drives.
type Deps struct {
	Transport Transport
	Telemetry Telemetry
	Notifier  Notifier
	Services  Services
	Camera    Camera
	Runner    Runner
	Artifacts Artifacts
	Debug     *debuglog.Logger
}

// Outcome records what happened to one message.
type Outcome struct {
	Modem   string
	Handle  string
	Sender  string
	Trusted bool
	Command Command
	Reply   string
	Err     error

	Deferred       *Action
	Deleted        bool
	DeferredRan    bool
	DeferredResult host.Result
}

// Dispatcher processes single messages.
type Dispatcher struct {
	opts Options
	deps Deps
	now  func() time.Time
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(opts Options, deps Deps) *Dispatcher {
	return &Dispatcher{opts: opts, deps: deps, now: time.Now}
}

// Process handles the message at handle on modem. Whatever happens while
// reading and executing, the message is deleted exactly once, and a
// deferred action runs only if that delete succeeded.
func (d *Dispatcher) Process(ctx context.Context, modem, handle string) Outcome {
	out := Outcome{Modem: modem, Handle: handle}
	out.Deferred = d.execute(ctx, &out)
	d.finish(ctx, &out)
	return out
}

// execute reads, authenticates, runs and replies. Panics stop here.
func (d *Dispatcher) execute(ctx context.Context, out *Outcome) (deferred *Action) {
	defer func() {
		if r := recover(); r != nil {
			deferred = nil
			out.Err = fmt.Errorf("panic: %v", r)
			log.Printf("Dispatcher: panic while processing %s on %s: %v\n%s", out.Handle, out.Modem, r, debug.Stack())
		}
	}()

	msg, err := d.deps.Transport.ReadMessage(ctx, out.Modem, out.Handle)
	if err != nil {
		out.Err = err
		log.Printf("Dispatcher: read %s on %s: %v", out.Handle, out.Modem, err)
		return nil
	}
	out.Sender = msg.Sender
	d.deps.Debug.Printf("Dispatcher: %s from %s: %q", out.Handle, msg.Sender, msg.Text)

	if msg.Sender != d.opts.TrustedPhone {
		out.Reply = d.reject(msg)
		d.reply(ctx, out.Modem, out.Reply)
		return nil
	}
	out.Trusted = true

	out.Command = d.opts.Grammar.Parse(msg.Text)
	out.Reply, deferred = d.run(ctx, out.Command)
	d.reply(ctx, out.Modem, out.Reply)
	return deferred
}

// finish deletes the message and then runs the deferred action. It ignores
// cancellation of ctx so a stopping daemon still cleans up.
func (d *Dispatcher) finish(ctx context.Context, out *Outcome) {
	ctx = context.WithoutCancel(ctx)

	if err := d.deps.Transport.DeleteMessage(ctx, out.Modem, out.Handle); err != nil {
		log.Printf("Dispatcher: delete %s on %s: %v", out.Handle, out.Modem, err)
		if out.Deferred != nil {
			log.Printf("Dispatcher: skipping deferred %s", out.Deferred)
		}
		return
	}
	out.Deleted = true
	if out.Deferred == nil {
		return
	}

	out.DeferredResult = d.deps.Runner.Run(ctx, out.Deferred.Args...)
	out.DeferredRan = true
	log.Printf("Dispatcher: deferred action finished\n%s", out.DeferredResult)
}

// reject archives a message from an unknown sender and returns the
// warning for the trusted number.
func (d *Dispatcher) reject(msg transport.Message) string {
	path, err := d.deps.Artifacts.Write("invalid-sms-", ".json", msg.Record())
	if err != nil {
		log.Printf("Dispatcher: archive message from %s: %v", msg.Sender, err)
		path = "(not saved)"
	}
	log.Printf("Dispatcher: rejected message from %s, logged in %s", msg.Sender, path)
	return fmt.Sprintf("Warning: Invalid from %s, text logged in %s!", msg.Sender, path)
}

func (d *Dispatcher) reply(ctx context.Context, modem, text string) {
	if err := d.deps.Transport.SendText(ctx, modem, text, d.opts.TrustedPhone); err != nil {
		log.Printf("Dispatcher: reply %q: %v", text, err)
	}
}

// run executes cmd and returns the reply and any deferred action.
func (d *Dispatcher) run(ctx context.Context, cmd Command) (string, *Action) {
	switch c := cmd.(type) {
	case Restart:
		return fmt.Sprintf("Restarting %s service", d.opts.Name),
			&Action{Args: []string{"systemctl", "restart", d.opts.AlarmService}}
	case Stop:
		return fmt.Sprintf("Shutting down %s service", d.opts.Name),
			&Action{Args: []string{"systemctl", "stop", d.opts.AlarmService}}
	case Reboot:
		return fmt.Sprintf("Restarting %s host", d.opts.Name), &Action{Args: []string{"reboot"}}
	case Poweroff:
		return fmt.Sprintf("Shutting down %s host", d.opts.Name), &Action{Args: []string{"poweroff"}}
	case Motion:
		return d.motion(ctx, c.Action)
	case Battery:
		return d.battery(ctx), nil
	case Photo:
		return d.photo(ctx), nil
	case Video:
		return d.video(ctx, c.Seconds), nil
	case Help:
		return d.opts.Grammar.Help(d.opts.Name), nil
	case Invalid:
		return "Invalid command: " + c.Text, nil
	}
	panic(fmt.Sprintf("unhandled command %T", cmd))
}

var motionReplies = map[MotionAction]struct{ reply, verb string }{
	MotionStop:    {"Stopping motion detection", "stop"},
	MotionStart:   {"Starting motion detection", "start"},
	MotionRestart: {"Restarting motion detection", "restart"},
}

func (d *Dispatcher) motion(ctx context.Context, action MotionAction) (string, *Action) {
	if action == MotionStatus {
		return fmt.Sprintf("Motion detection status %d", d.deps.Services.Status(ctx, d.opts.MotionService)), nil
	}
	r := motionReplies[action]
	return r.reply, &Action{Args: []string{"systemctl", r.verb, d.opts.MotionService}}
}

func (d *Dispatcher) battery(ctx context.Context) string {
	pct, err := d.deps.Telemetry.BatteryPercentage(ctx)
	if err != nil {
		log.Printf("Dispatcher: battery percentage: %v", err)
		return "Battery status unavailable"
	}
	return d.BatteryReport(ctx, pct)
}

// BatteryReport formats pct together with the current charging state.
func (d *Dispatcher) BatteryReport(ctx context.Context, pct int) string {
	mv, err := d.deps.Telemetry.InputVoltage(ctx)
	if err != nil {
		log.Printf("Dispatcher: input voltage: %v", err)
		mv = 0
	}
	return BatteryStatus(pct, mv)
}

// BatteryStatus renders the battery line. The UPS is charging when its
// input exceeds 3000 mV.
func BatteryStatus(pct, millivolts int) string {
	if millivolts > 3000 {
		return fmt.Sprintf("Battery status %d%%, charging voltage %.2fv", pct, float64(millivolts)/1000)
	}
	return fmt.Sprintf("Battery status %d%%, not charging", pct)
}

const timestampLayout = "2006/01/02, 15:04:05"

func (d *Dispatcher) photo(ctx context.Context) string {
	if d.deps.Services.Active(ctx, d.opts.MotionService) {
		return "Can't take photo while motion is running"
	}
	path := d.deps.Artifacts.Reserve("photo-", ".jpg")
	if code := d.deps.Camera.Photo(ctx, path); code != 0 {
		return fmt.Sprintf("Error %d taking photo", code)
	}
	text := fmt.Sprintf("Photo taken on %s saved in %s", d.now().Format(timestampLayout), path)
	d.deps.Notifier.Notify(ctx, "Alarm photo", text, path)
	return text
}

func (d *Dispatcher) video(ctx context.Context, seconds int) string {
	if d.deps.Services.Active(ctx, d.opts.MotionService) {
		return "Can't record a video while motion is running"
	}
	path := d.deps.Artifacts.Reserve("video-", ".mkv")
	if code := d.deps.Camera.Video(ctx, path, seconds); code != 0 {
		return fmt.Sprintf("Error %d recording video", code)
	}
	text := fmt.Sprintf("Video recorded on %s for %ds in %s", d.now().Format(timestampLayout), seconds, path)
	d.deps.Notifier.Notify(ctx, "Alarm video", text, path)
	return text
}
