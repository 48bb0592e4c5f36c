package alarm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"rpi4-alarm/internal/debuglog"
)

// unknownPercentage is the stored battery level before the first reading.
const unknownPercentage = -1

// Stats is a snapshot of the poll loop counters.
type Stats struct {
	Cycles          int       `json:"cycles"`
	LastCycle       time.Time `json:"last_cycle"`
	Modems          int       `json:"modems"`
	Processed       int       `json:"processed"`
	Rejected        int       `json:"rejected"`
	Deleted         int       `json:"deleted"`
	DeleteFailures  int       `json:"delete_failures"`
	DeferredRun     int       `json:"deferred_run"`
	DeferredSkipped int       `json:"deferred_skipped"`
	LastPercentage  int       `json:"last_percentage"`
}

// ModemPending is the number of stored messages found on one modem.
type ModemPending struct {
	Modem   string `json:"modem"`
	Pending int    `json:"pending"`
	Err     error  `json:"-"`
}

// Poller runs dispatch cycles at a fixed interval.
type Poller struct {
	transport  Transport
	telemetry  Telemetry
	dispatcher *Dispatcher
	logDir     interface{ EnsureDir() error }
	name       string
	trusted    string
	interval   time.Duration
	debug      *debuglog.Logger
	notify     func(state string)

	lastPercentage int

	mu    sync.Mutex
	stats Stats
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Name         string
	TrustedPhone string
	Interval     time.Duration
	LogDir       interface{ EnsureDir() error }
	Debug        *debuglog.Logger
}

// NewPoller returns a Poller dispatching through d.
func NewPoller(cfg PollerConfig, t Transport, tel Telemetry, d *Dispatcher) *Poller {
	return &Poller{
		transport:      t,
		telemetry:      tel,
		dispatcher:     d,
		logDir:         cfg.LogDir,
		name:           cfg.Name,
		trusted:        cfg.TrustedPhone,
		interval:       cfg.Interval,
		debug:          cfg.Debug,
		notify:         sdNotify,
		lastPercentage: unknownPercentage,
		stats:          Stats{LastPercentage: unknownPercentage},
	}
}

func sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Printf("Poller: sd_notify %q: %v", state, err)
	}
}

// Bootstrap creates the log directory and announces the daemon on every
// modem with its pending message count.
func (p *Poller) Bootstrap(ctx context.Context) error {
	if err := p.logDir.EnsureDir(); err != nil {
		return err
	}
	p.debug.Printf("Poller: starting %s", p.name)

	pending, err := p.Pending(ctx)
	if err != nil {
		log.Printf("Poller: list modems: %v", err)
		return nil
	}
	for _, mp := range pending {
		log.Printf("Poller: found modem %s with %d pending messages", mp.Modem, mp.Pending)
		text := fmt.Sprintf("Starting %s with %d pending commands", p.name, mp.Pending)
		if err := p.transport.SendText(ctx, mp.Modem, text, p.trusted); err != nil {
			log.Printf("Poller: startup message on %s: %v", mp.Modem, err)
		}
	}
	return nil
}

// Pending lists every modem with the number of messages stored on it.
func (p *Poller) Pending(ctx context.Context) ([]ModemPending, error) {
	modems, err := p.transport.ListModems(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ModemPending, 0, len(modems))
	for _, modem := range modems {
		handles, err := p.transport.ListMessages(ctx, modem)
		if err != nil {
			log.Printf("Poller: list messages on %s: %v", modem, err)
		}
		out = append(out, ModemPending{Modem: modem, Pending: len(handles), Err: err})
	}
	return out, nil
}

// Run executes cycles until ctx is cancelled. A cycle in progress is
// always completed; cancellation is observed while sleeping.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Cycle(context.WithoutCancel(ctx))
		p.notify(daemon.SdNotifyWatchdog)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// Cycle processes every pending message on every modem in discovery order,
// then checks the battery level.
func (p *Poller) Cycle(ctx context.Context) {
	modems, err := p.transport.ListModems(ctx)
	if err != nil {
		log.Printf("Poller: list modems: %v", err)
	}

	var lastModem string
	for _, modem := range modems {
		lastModem = modem
		handles, err := p.transport.ListMessages(ctx, modem)
		if err != nil {
			log.Printf("Poller: list messages on %s: %v", modem, err)
			continue
		}
		for _, handle := range handles {
			p.record(p.dispatcher.Process(ctx, modem, handle))
		}
	}

	p.checkBattery(ctx, lastModem)

	p.mu.Lock()
	p.stats.Cycles++
	p.stats.LastCycle = time.Now()
	p.stats.Modems = len(modems)
	p.stats.LastPercentage = p.lastPercentage
	p.mu.Unlock()
}

// checkBattery notifies the trusted number through modem when the battery
// level differs from the last one reported. The stored level only moves
// when a notification was attempted.
func (p *Poller) checkBattery(ctx context.Context, modem string) {
	pct, err := p.telemetry.BatteryPercentage(ctx)
	if err != nil {
		log.Printf("Poller: battery percentage: %v", err)
		return
	}
	if pct == p.lastPercentage {
		return
	}
	if modem == "" {
		p.debug.Printf("Poller: battery at %d%% but no modem to report it", pct)
		return
	}
	text := p.dispatcher.BatteryReport(ctx, pct)
	if err := p.transport.SendText(ctx, modem, text, p.trusted); err != nil {
		log.Printf("Poller: battery notification: %v", err)
	}
	p.lastPercentage = pct
}

func (p *Poller) record(out Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Processed++
	if out.Sender != "" && !out.Trusted {
		p.stats.Rejected++
	}
	if out.Deleted {
		p.stats.Deleted++
	} else {
		p.stats.DeleteFailures++
	}
	switch {
	case out.DeferredRan:
		p.stats.DeferredRun++
	case out.Deferred != nil:
		p.stats.DeferredSkipped++
	}
}

// Stats returns a copy of the counters. Safe for concurrent use.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
