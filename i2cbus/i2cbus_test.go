package i2cbus

import (
	"encoding/binary"
	"errors"
	"testing"
)

// fakeBus is an in-memory register file addressed the way the current
// monitor and generic register helpers expect: a write(reg, data...)
// followed by a read(len) against the same register.
type fakeBus struct {
	regs   map[byte][]byte
	failTx bool
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	if b.failTx {
		return errors.New("fake: bus fault")
	}
	if len(w) == 0 {
		return errors.New("fake: empty write")
	}
	reg := w[0]
	if len(w) > 1 {
		if b.regs == nil {
			b.regs = map[byte][]byte{}
		}
		b.regs[reg] = append([]byte(nil), w[1:]...)
		return nil
	}
	if r != nil {
		data := b.regs[reg]
		copy(r, data)
	}
	return nil
}

func TestTransactionReadWriteRoundTrip(t *testing.T) {
	bus := &fakeBus{}
	tx := NewTransaction(bus, 0x40)
	if err := tx.WriteRegister(0x05, 0x01, 0x02); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	if tx.Faulted() {
		t.Fatal("Faulted() after successful write")
	}
	out := make([]byte, 2)
	if err := tx.ReadRegister(0x05, out); err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if out[0] != 0x01 || out[1] != 0x02 {
		t.Fatalf("ReadRegister() = %v, want [1 2]", out)
	}
}

func TestTransactionFaultsOnBusError(t *testing.T) {
	bus := &fakeBus{failTx: true}
	tx := NewTransaction(bus, 0x40)
	if err := tx.ReadRegister(0x05, make([]byte, 2)); err == nil {
		t.Fatal("ReadRegister() = nil, want error")
	}
	if !tx.Faulted() {
		t.Fatal("Faulted() = false after a failed transaction")
	}
	if tx.Err() == nil {
		t.Fatal("Err() = nil after a failed transaction")
	}
}

func TestCurrentMonitorScalesByLSB(t *testing.T) {
	bus := &fakeBus{regs: map[byte][]byte{}}
	var raw [2]byte
	binary.BigEndian.PutUint16(raw[:], 150)
	bus.regs[0x01] = raw[:]

	mon := NewCurrentMonitor(bus, 0x40, 0x01, 4)
	ma, err := mon.MeasureMilliamps()
	if err != nil {
		t.Fatalf("MeasureMilliamps: %v", err)
	}
	if ma != 600 {
		t.Fatalf("MeasureMilliamps() = %d, want 600", ma)
	}
}

func TestCurrentMonitorPropagatesBusError(t *testing.T) {
	bus := &fakeBus{failTx: true}
	mon := NewCurrentMonitor(bus, 0x40, 0x01, 4)
	if _, err := mon.MeasureMilliamps(); err == nil {
		t.Fatal("MeasureMilliamps() = nil error, want propagated bus fault")
	}
}
