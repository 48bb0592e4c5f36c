// Package telemetry reads battery state from the UPS HAT fuel gauge over
// I2C. Both backends read the same two 16-bit registers.
package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"rpi4-alarm/internal/host"
)

// UPS HAT registers, read as SMBus words.
const (
	RegVoltage    = 0x07 // charging voltage in millivolts
	RegPercentage = 0x13 // battery charge in percent
)

type commandRunner interface {
	Run(ctx context.Context, args ...string) host.Result
}

// I2CGet reads registers with the i2cget tool from i2c-tools.
type I2CGet struct {
	runner commandRunner
	bus    string
	addr   uint16
}

// NewI2CGet returns a reader for the device at addr on bus.
func NewI2CGet(runner commandRunner, bus string, addr uint16) *I2CGet {
	return &I2CGet{runner: runner, bus: bus, addr: addr}
}

// InputVoltage returns the charging voltage in millivolts.
func (g *I2CGet) InputVoltage(ctx context.Context) (int, error) {
	return g.readWord(ctx, RegVoltage)
}

// BatteryPercentage returns the battery charge in percent.
func (g *I2CGet) BatteryPercentage(ctx context.Context) (int, error) {
	return g.readWord(ctx, RegPercentage)
}

func (g *I2CGet) readWord(ctx context.Context, reg byte) (int, error) {
	res := g.runner.Run(ctx, "i2cget", "-y", g.bus,
		fmt.Sprintf("0x%02x", g.addr), fmt.Sprintf("0x%02x", reg), "w")
	if !res.OK() {
		if msg := host.Describe("i2cget", res.Err); msg != "" {
			return 0, fmt.Errorf("i2c read 0x%02x/0x%02x: %s", g.addr, reg, msg)
		}
		return 0, fmt.Errorf("i2c read 0x%02x/0x%02x: exit code %d: %s",
			g.addr, reg, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseWord(res.Stdout)
}

// parseWord accepts the "0x0fa0" form printed by i2cget as well as plain
// decimal.
func parseWord(s string) (int, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parse i2c value %q: %w", strings.TrimSpace(s), err)
	}
	return int(v), nil
}
