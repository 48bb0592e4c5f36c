package host

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Exit codes returned by `systemctl status`, which Units reproduces.
const (
	StatusActive   = 0
	StatusInactive = 3
	StatusUnknown  = 4
)

type commandRunner interface {
	Run(ctx context.Context, args ...string) Result
}

// Units queries systemd for unit state over D-Bus, falling back to
// `systemctl status` when the bus is unreachable.
type Units struct {
	runner commandRunner
	query  func(ctx context.Context, unit string) (map[string]interface{}, error)
}

// NewUnits returns a Units backed by the system manager.
func NewUnits(runner commandRunner) *Units {
	return &Units{runner: runner, query: unitProperties}
}

// Status returns a `systemctl status` compatible exit code for unit.
func (u *Units) Status(ctx context.Context, unit string) int {
	props, err := u.query(ctx, serviceName(unit))
	if err == nil {
		load, _ := props["LoadState"].(string)
		active, _ := props["ActiveState"].(string)
		return statusCode(load, active)
	}

	log.Printf("Units: dbus status for %s failed, using systemctl: %v", unit, err)
	res := u.runner.Run(ctx, "systemctl", "status", unit)
	if res.ExitCode < 0 {
		return StatusUnknown
	}
	return res.ExitCode
}

// Active reports whether unit is currently running.
func (u *Units) Active(ctx context.Context, unit string) bool {
	return u.Status(ctx, unit) == StatusActive
}

func unitProperties(ctx context.Context, unit string) (map[string]interface{}, error) {
	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to system manager: %w", err)
	}
	defer conn.Close()

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("get unit properties for %s: %w", unit, err)
	}
	return props, nil
}

func statusCode(loadState, activeState string) int {
	if loadState == "not-found" {
		return StatusUnknown
	}
	switch activeState {
	case "active", "reloading":
		return StatusActive
	case "":
		return StatusUnknown
	default:
		return StatusInactive
	}
}

func serviceName(unit string) string {
	if strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}
