package telemetry

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Periph reads registers through the kernel I2C driver without spawning
// processes.
type Periph struct {
	mu  sync.Mutex
	dev *i2c.Dev
}

// OpenPeriph initializes the periph host drivers and opens bus ("1" or
// "/dev/i2c-1"). The returned closer releases the bus.
func OpenPeriph(bus string, addr uint16) (*Periph, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("init periph host: %w", err)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c bus %s: %w", bus, err)
	}
	return newPeriph(b, addr), b.Close, nil
}

func newPeriph(bus i2c.Bus, addr uint16) *Periph {
	return &Periph{dev: &i2c.Dev{Addr: addr, Bus: bus}}
}

// InputVoltage returns the charging voltage in millivolts.
func (p *Periph) InputVoltage(ctx context.Context) (int, error) {
	return p.readWord(ctx, RegVoltage)
}

// BatteryPercentage returns the battery charge in percent.
func (p *Periph) BatteryPercentage(ctx context.Context) (int, error) {
	return p.readWord(ctx, RegPercentage)
}

// readWord performs an SMBus read word: low byte first on the wire.
func (p *Periph) readWord(ctx context.Context, reg byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, 2)
	if err := p.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, fmt.Errorf("i2c read 0x%02x/0x%02x: %w", p.dev.Addr, reg, err)
	}
	return int(binary.LittleEndian.Uint16(buf)), nil
}
