// RPI4 Alarm
// Polls the cellular modem for SMS commands from the trusted phone and acts
// on them: service control, battery reports, photo and video capture.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"rpi4-alarm/internal/alarm"
	"rpi4-alarm/internal/config"
	"rpi4-alarm/internal/debuglog"
	"rpi4-alarm/internal/host"
	"rpi4-alarm/internal/notify"
	"rpi4-alarm/internal/status"
	"rpi4-alarm/internal/telemetry"
	"rpi4-alarm/internal/transport"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	listModems := flag.Bool("list", false, "list modems with their pending messages and exit")
	mailCamera := flag.String("mail", "", "email a motion alert for `camera`, attaching the file given as the next argument, and exit")
	flag.Parse()

	os.Exit(run(*listModems, *mailCamera, flag.Arg(0)))
}

func run(listModems bool, mailCamera, attachment string) int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Configuration error:\n%v", err)
		return 2
	}
	debug := debuglog.New(cfg.Debug)
	artifacts := host.NewArtifacts(cfg.LogPath)
	mailer := notify.NewMailer(cfg.Mail, cfg.LogPath)

	if mailCamera != "" {
		return motionAlert(artifacts, mailer, mailCamera, attachment)
	}

	hwRunner := host.NewRunner(host.DefaultTimeout)
	actionRunner := host.NewRunner(0)

	modem, err := newTransport(cfg, hwRunner, debug)
	if err != nil {
		log.Printf("Transport error: %v", err)
		return 1
	}
	ups, closeUPS, err := newTelemetry(cfg, hwRunner)
	if err != nil {
		log.Printf("Telemetry error: %v", err)
		return 1
	}
	defer closeUPS()

	dispatcher := alarm.NewDispatcher(alarm.Options{
		Name:          cfg.Name,
		TrustedPhone:  cfg.TrustedPhone,
		AlarmService:  cfg.AlarmService,
		MotionService: cfg.MotionService,
		Grammar: alarm.Grammar{
			EnableStop:      cfg.EnableStop,
			EnablePoweroff:  cfg.EnablePoweroff,
			MaxVideoSeconds: cfg.VideoMaxSeconds,
		},
	}, alarm.Deps{
		Transport: modem,
		Telemetry: ups,
		Notifier:  mailer,
		Services:  host.NewUnits(hwRunner),
		Camera:    host.NewCamera(actionRunner, cfg.VideoDevice),
		Runner:    actionRunner,
		Artifacts: artifacts,
		Debug:     debug,
	})
	poller := alarm.NewPoller(alarm.PollerConfig{
		Name:         cfg.Name,
		TrustedPhone: cfg.TrustedPhone,
		Interval:     cfg.SleepTime,
		LogDir:       artifacts,
		Debug:        debug,
	}, modem, ups, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if listModems {
		return printPending(ctx, poller)
	}

	log.Printf("%s starting (transport %s, telemetry %s)", cfg.Name, cfg.Transport, cfg.Telemetry)
	if err := poller.Bootstrap(ctx); err != nil {
		log.Printf("Bootstrap failed: %v", err)
		return 1
	}
	daemon.SdNotify(false, daemon.SdNotifyReady) //nolint: errcheck

	if cfg.StatusAddr != "" {
		go func() {
			if err := status.Serve(ctx, cfg.StatusAddr, status.NewRouter(cfg.Name, poller)); err != nil {
				log.Printf("Status server failed: %v", err)
			}
		}()
	}

	err = poller.Run(ctx)
	daemon.SdNotify(false, daemon.SdNotifyStopping) //nolint: errcheck
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Poll loop failed: %v", err)
		return 1
	}
	log.Printf("%s stopped", cfg.Name)
	return 0
}

func newTransport(cfg *config.Config, runner *host.Runner, debug *debuglog.Logger) (alarm.Transport, error) {
	switch cfg.Transport {
	case config.TransportDBus:
		return transport.NewDBus()
	case config.TransportSerial:
		return transport.NewSerial(cfg.SerialPorts, cfg.SerialBaud, debug), nil
	default:
		return transport.NewMMCLI(runner, debug), nil
	}
}

func newTelemetry(cfg *config.Config, runner *host.Runner) (alarm.Telemetry, func() error, error) {
	if cfg.Telemetry == config.TelemetryPeriph {
		return telemetry.OpenPeriph(cfg.I2CBus, cfg.UPSAddr)
	}
	return telemetry.NewI2CGet(runner, cfg.I2CBus, cfg.UPSAddr), func() error { return nil }, nil
}

func printPending(ctx context.Context, poller *alarm.Poller) int {
	pending, err := poller.Pending(ctx)
	if err != nil {
		log.Printf("List modems failed: %v", err)
		return 1
	}
	for _, mp := range pending {
		fmt.Printf("Found modem %s\n", mp.Modem)
		if mp.Err != nil {
			fmt.Printf("  error: %v\n", mp.Err)
			continue
		}
		fmt.Printf("Found %d pending messages\n", mp.Pending)
	}
	return 0
}

// motionAlert is run from the motion daemon's event hooks.
func motionAlert(artifacts *host.Artifacts, mailer *notify.Mailer, camera, attachment string) int {
	if err := artifacts.EnsureDir(); err != nil {
		log.Printf("Motion alert: %v", err)
		return 1
	}
	subject := fmt.Sprintf("Motion Alert (%s)", camera)
	body := fmt.Sprintf("Motion Alert on %s", time.Now().Format("2006-01-02 15:04:05"))
	if err := mailer.Deliver(context.Background(), subject, body, attachment); err != nil {
		return 1
	}
	return 0
}
