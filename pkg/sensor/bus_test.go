package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

type txn struct {
	addr uint16
	w    []byte
	r    int
}

// fakeBus dispatches transactions to per-address handlers and records them.
type fakeBus struct {
	devices map[uint16]func(w, r []byte) error
	log     []txn
}

func newFakeBus() *fakeBus {
	return &fakeBus{devices: map[uint16]func(w, r []byte) error{}}
}

func (b *fakeBus) String() string { return "fake-i2c" }

func (b *fakeBus) SetSpeed(physic.Frequency) error { return nil }

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.log = append(b.log, txn{addr: addr, w: append([]byte(nil), w...), r: len(r)})
	h, ok := b.devices[addr]
	if !ok {
		return fmt.Errorf("no device at 0x%02X", addr)
	}
	return h(w, r)
}

// fakeOxygen emulates the Gravity oxygen register file.
type fakeOxygen struct {
	selected byte
	key      byte
	frames   [][3]byte
	next     int
	writes   map[byte]byte
	failRead bool
}

func (o *fakeOxygen) handle(w, r []byte) error {
	if len(w) == 1 {
		o.selected = w[0]
		return nil
	}
	if len(w) == 2 {
		if o.writes == nil {
			o.writes = map[byte]byte{}
		}
		o.writes[w[0]] = w[1]
		return nil
	}
	if o.failRead {
		return fmt.Errorf("nack")
	}
	switch o.selected {
	case regKey:
		r[0] = o.key
	case regOxygenData:
		if len(o.frames) == 0 {
			for i := range r {
				r[i] = 0
			}
			return nil
		}
		f := o.frames[o.next%len(o.frames)]
		if len(r) == oxygenFrameSize {
			o.next++
		}
		copy(r, f[:])
	}
	return nil
}
