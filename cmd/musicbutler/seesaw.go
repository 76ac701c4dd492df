package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// i2cSlave is the I2C_SLAVE ioctl from <linux/i2c-dev.h>.
const i2cSlave = 0x0703

// Seesaw register map (subset).
const (
	seesawStatusBase = 0x00
	seesawHWID       = 0x01

	seesawGPIOBase      = 0x01
	seesawGPIODirClr    = 0x03
	seesawGPIOBulk      = 0x04
	seesawGPIOBulkSet   = 0x05
	seesawGPIOPullEnSet = 0x0B

	seesawEncoderBase     = 0x11
	seesawEncoderPosition = 0x30
)

// The seesaw firmware needs a short pause between the register select and the read.
const seesawReadDelay = 5 * time.Millisecond

// seesaw talks to an Adafruit seesaw rotary encoder over /dev/i2c-N.
type seesaw struct {
	mu        sync.Mutex
	f         *os.File
	buttonPin uint
}

func openSeesaw(bus, addr, buttonPin int) (*seesaw, error) {
	path := fmt.Sprintf("/dev/i2c-%d", bus)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), i2cSlave, addr); err != nil {
		f.Close()
		return nil, fmt.Errorf("select i2c address 0x%02x on %s: %w", addr, path, err)
	}

	s := &seesaw{f: f, buttonPin: uint(buttonPin)}
	if err := s.setupButton(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// HardwareID returns the chip id byte (0x55 SAMD09, 0x87 ATtiny817).
func (s *seesaw) HardwareID() (byte, error) {
	var b [1]byte
	if err := s.read(seesawStatusBase, seesawHWID, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// setupButton configures the button pin as an input with pull-up.
func (s *seesaw) setupButton() error {
	mask := s.pinMask()
	if err := s.write(seesawGPIOBase, seesawGPIODirClr, mask); err != nil {
		return fmt.Errorf("seesaw button direction: %w", err)
	}
	if err := s.write(seesawGPIOBase, seesawGPIOPullEnSet, mask); err != nil {
		return fmt.Errorf("seesaw button pull-up: %w", err)
	}
	if err := s.write(seesawGPIOBase, seesawGPIOBulkSet, mask); err != nil {
		return fmt.Errorf("seesaw button pull direction: %w", err)
	}
	return nil
}

func (s *seesaw) pinMask() []byte {
	mask := make([]byte, 4)
	binary.BigEndian.PutUint32(mask, 1<<s.buttonPin)
	return mask
}

// Position returns the absolute encoder position.
func (s *seesaw) Position() (int32, error) {
	var b [4]byte
	if err := s.read(seesawEncoderBase, seesawEncoderPosition, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

// ButtonDown reports whether the button is held. The pin is active low.
func (s *seesaw) ButtonDown() (bool, error) {
	var b [4]byte
	if err := s.read(seesawGPIOBase, seesawGPIOBulk, b[:]); err != nil {
		return false, err
	}
	return binary.BigEndian.Uint32(b[:])&(1<<s.buttonPin) == 0, nil
}

func (s *seesaw) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func (s *seesaw) write(base, fn byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := append([]byte{base, fn}, data...)
	if _, err := s.f.Write(buf); err != nil {
		return fmt.Errorf("i2c write 0x%02x/0x%02x: %w", base, fn, err)
	}
	return nil
}

func (s *seesaw) read(base, fn byte, dst []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write([]byte{base, fn}); err != nil {
		return fmt.Errorf("i2c select 0x%02x/0x%02x: %w", base, fn, err)
	}
	time.Sleep(seesawReadDelay)
	if _, err := s.f.Read(dst); err != nil {
		return fmt.Errorf("i2c read 0x%02x/0x%02x: %w", base, fn, err)
	}
	return nil
}
