package i2cdev

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

type fakePort struct {
	addrs  []uint16
	writes [][]byte
	reply  []byte
	short  bool
	closed bool
}

func (f *fakePort) setAddr(a uint16) error { f.addrs = append(f.addrs, a); return nil }
func (f *fakePort) write(p []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), p...))
	if f.short {
		return len(p) - 1, nil
	}
	return len(p), nil
}
func (f *fakePort) read(p []byte) (int, error) { return copy(p, f.reply), nil }
func (f *fakePort) close() error { f.closed = true; return nil }

func TestTx_SelectsAddressOnlyOnChange(t *testing.T) {
	fp := &fakePort{reply: []byte{0x11, 0x22}}
	b := newBus("/dev/i2c-test", fp)

	r := make([]byte, 2)
	if err := b.Tx(0x40, []byte{0x06}, r); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := b.Tx(0x40, []byte{0x00, 0x10}, nil); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := b.Tx(0x41, []byte{0x00}, nil); err != nil {
		t.Fatalf("tx: %v", err)
	}

	if len(fp.addrs) != 2 || fp.addrs[0] != 0x40 || fp.addrs[1] != 0x41 {
		t.Fatalf("address selects = %#v", fp.addrs)
	}
	if r[0] != 0x11 || r[1] != 0x22 {
		t.Fatalf("read = %#v", r)
	}
	if len(fp.writes) != 3 {
		t.Fatalf("writes = %d", len(fp.writes))
	}
}

func TestTx_ShortTransfersFail(t *testing.T) {
	b := newBus("/dev/i2c-test", &fakePort{short: true})
	if err := b.Tx(0x40, []byte{1, 2}, nil); err == nil {
		t.Fatal("expected short write error")
	}

	b = newBus("/dev/i2c-test", &fakePort{reply: []byte{1}})
	if err := b.Tx(0x40, nil, make([]byte, 4)); err == nil {
		t.Fatal("expected short read error")
	}
}

func TestClose(t *testing.T) {
	fp := &fakePort{}
	b := newBus("/dev/i2c-test", fp)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if !fp.closed {
		t.Fatal("port not closed")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := b.Tx(0x40, []byte{0}, nil); err == nil {
		t.Fatal("tx after close should fail")
	}
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open("/dev/i2c-does-not-exist")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, unix.ENOENT) {
		t.Fatalf("err = %v, want ENOENT", err)
	}
}
