// Package i2cdev exposes a Linux /dev/i2c-N character device as a
// tinygo.org/x/drivers I2C bus, so the same drivers run on a single-board
// computer.
package i2cdev

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
	"tinygo.org/x/drivers"
)

// ioctl from <linux/i2c-dev.h>
const i2cSlave = 0x0703

var _ drivers.I2C = (*Bus)(nil)

// port is the raw device; split out so addressing logic can be tested.
type port interface {
	setAddr(addr uint16) error
	write(p []byte) (int, error)
	read(p []byte) (int, error)
	close() error
}

type fdPort struct{ fd int }

func (f fdPort) setAddr(addr uint16) error { return unix.IoctlSetInt(f.fd, i2cSlave, int(addr)) }
func (f fdPort) write(p []byte) (int, error) { return unix.Write(f.fd, p) }
func (f fdPort) read(p []byte) (int, error) { return unix.Read(f.fd, p) }
func (f fdPort) close() error { return unix.Close(f.fd) }

// Bus serialises transactions on one adapter.
type Bus struct {
	path string

	mu   sync.Mutex
	p    port
	addr int // -1 until the first transaction
}

// Open opens an adapter such as "/dev/i2c-1".
func Open(path string) (*Bus, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("i2cdev: open %s: %w", path, err)
	}
	return newBus(path, fdPort{fd: fd}), nil
}

func newBus(path string, p port) *Bus { return &Bus{path: path, p: p, addr: -1} }

func (b *Bus) String() string { return b.path }

// Tx writes w then reads len(r) bytes from the 7-bit device at addr. The
// two halves are separate transfers (stop between), which is what register
// style parts like the PCA9685 expect.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.p == nil {
		return fmt.Errorf("i2cdev: %s closed", b.path)
	}
	if int(addr) != b.addr {
		if err := b.p.setAddr(addr); err != nil {
			return fmt.Errorf("i2cdev: %s addr 0x%02x: %w", b.path, addr, err)
		}
		b.addr = int(addr)
	}
	if len(w) > 0 {
		n, err := b.p.write(w)
		if err != nil {
			return fmt.Errorf("i2cdev: write 0x%02x: %w", addr, err)
		}
		if n != len(w) {
			return fmt.Errorf("i2cdev: write 0x%02x: short write %d/%d", addr, n, len(w))
		}
	}
	if len(r) > 0 {
		n, err := b.p.read(r)
		if err != nil {
			return fmt.Errorf("i2cdev: read 0x%02x: %w", addr, err)
		}
		if n != len(r) {
			return fmt.Errorf("i2cdev: read 0x%02x: short read %d/%d", addr, n, len(r))
		}
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.p == nil {
		return nil
	}
	err := b.p.close()
	b.p = nil
	return err
}
