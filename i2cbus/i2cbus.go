// Package i2cbus implements an explicit enum-state I2C transaction
// machine, grounded on driver/ap33772s's minimal Bus interface
// (Tx(addr uint16, w, r []byte) error), used here to poll an optional
// current-monitor chip between moves. It is never called from the step
// ISR: spec.md's no-blocking-in-the-step-callback rule means I2C
// transactions, which can stretch for multiple bus clock cycles, only
// ever run from the motion package's foreground.
package i2cbus

import "fmt"

// Bus is the same minimal transfer primitive driver/ap33772s.Bus
// specifies: a combined write-then-read transaction addressed by a
// 7-bit (expressed here as uint16 to match periph.io's i2c.Bus shape)
// device address.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// state is the transaction's explicit state, replacing the teacher's
// interrupt-latched single in-flight transaction (ap33772s.Device's
// interrupts channel) with a state value a single foreground goroutine
// steps through; there is no interrupt context on this bus's side, so a
// channel would add nothing but indirection.
type state uint8

const (
	stateIdle state = iota
	stateAddressed
	stateComplete
	stateFaulted
)

// Transaction is one addressed device on a Bus, walking the state
// machine idle -> addressed -> complete (or faulted) on every call to
// ReadRegister/WriteRegister.
type Transaction struct {
	bus   Bus
	addr  uint16
	state state
	err   error
}

// NewTransaction addresses dev at addr on bus.
func NewTransaction(bus Bus, addr uint16) *Transaction {
	return &Transaction{bus: bus, addr: addr, state: stateIdle}
}

// ReadRegister performs a write(reg)-then-read(len(out)) transaction,
// the standard register-indexed I2C read pattern.
func (t *Transaction) ReadRegister(reg byte, out []byte) error {
	t.state = stateAddressed
	if err := t.bus.Tx(t.addr, []byte{reg}, out); err != nil {
		t.state = stateFaulted
		t.err = fmt.Errorf("i2cbus: read register %#x: %w", reg, err)
		return t.err
	}
	t.state = stateComplete
	t.err = nil
	return nil
}

// WriteRegister performs a write(reg, data...) transaction.
func (t *Transaction) WriteRegister(reg byte, data ...byte) error {
	t.state = stateAddressed
	buf := make([]byte, 0, 1+len(data))
	buf = append(buf, reg)
	buf = append(buf, data...)
	if err := t.bus.Tx(t.addr, buf, nil); err != nil {
		t.state = stateFaulted
		t.err = fmt.Errorf("i2cbus: write register %#x: %w", reg, err)
		return t.err
	}
	t.state = stateComplete
	t.err = nil
	return nil
}

// Faulted reports whether the last transaction ended in stateFaulted.
func (t *Transaction) Faulted() bool { return t.state == stateFaulted }

// Err returns the error from the last faulted transaction, if any.
func (t *Transaction) Err() error { return t.err }

// CurrentMonitor reads a millamp current reading off a simple two-byte,
// big-endian current-sense register, the shape shared by the small
// current/power monitor chips (e.g. INA219-family parts) commonly paired
// with stepper driver power stages.
type CurrentMonitor struct {
	tx       *Transaction
	currentReg byte
	lsbMilliamps int
}

// NewCurrentMonitor wires a CurrentMonitor to addr on bus. lsbMilliamps
// is the chip's configured current LSB, set by the calibration register
// at init time. Nothing in this package writes the calibration register;
// lsbMilliamps is taken as given.
func NewCurrentMonitor(bus Bus, addr uint16, currentReg byte, lsbMilliamps int) *CurrentMonitor {
	return &CurrentMonitor{tx: NewTransaction(bus, addr), currentReg: currentReg, lsbMilliamps: lsbMilliamps}
}

// MeasureMilliamps reads the current current draw.
func (m *CurrentMonitor) MeasureMilliamps() (int, error) {
	var raw [2]byte
	if err := m.tx.ReadRegister(m.currentReg, raw[:]); err != nil {
		return 0, err
	}
	counts := int(int16(uint16(raw[0])<<8 | uint16(raw[1])))
	return counts * m.lsbMilliamps, nil
}
