// Package serialport provides blocking byte I/O on a character device, with
// per-request read deadlines, for talking to the SSP peripherals.
package serialport

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrNotADevice is returned when the configured path does not name a
// character-special file.
var ErrNotADevice = errors.New("serialport: not a character device")

// ErrTimeout is returned by Read when the deadline elapses before the
// requested number of bytes arrived.
var ErrTimeout = errors.New("serialport: read timeout")

// Link is the minimal blocking transport the SSP framer needs. It is
// satisfied by *Port and, in tests, by an in-memory fake.
type Link interface {
	Read(n int, deadline time.Time) ([]byte, error)
	Write(b []byte) error
	Close() error
}

// Port is a serial character device opened at 9600 baud, 8 data bits, 2 stop
// bits (8N2), matching the ITL peripherals' fixed line configuration.
type Port struct {
	path string
	file *os.File
}

// Open verifies path names a character-special file, then opens it for
// read/write and configures the line discipline for 9600 8N2.
func Open(path string) (*Port, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("serialport: stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotADevice, path)
	}

	file, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", path, err)
	}

	if err := configureTermios(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("serialport: configure %s: %w", path, err)
	}

	log.Infof("[SERIAL] opened %s at 9600 8N2", path)
	return &Port{path: path, file: file}, nil
}

// configureTermios sets raw mode, 9600 baud, 8 data bits, 2 stop bits, no
// parity, no flow control.
func configureTermios(file *os.File) error {
	fd := int(file.Fd())
	t, err := unix.IoctlGetTermios(fd, ioctlGets)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CSTOPB | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.CfSetspeed(t, unix.B9600); err != nil {
		return err
	}
	return unix.IoctlSetTermios(fd, ioctlSets, t)
}

// Read blocks until n bytes have arrived or deadline elapses, returning
// fewer bytes than requested only on timeout.
func (p *Port) Read(n int, deadline time.Time) ([]byte, error) {
	if err := p.file.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("serialport: set deadline: %w", err)
	}
	buf := make([]byte, 0, n)
	for len(buf) < n {
		chunk := make([]byte, n-len(buf))
		read, err := p.file.Read(chunk)
		buf = append(buf, chunk[:read]...)
		if err != nil {
			if os.IsTimeout(err) {
				return buf, ErrTimeout
			}
			return buf, fmt.Errorf("serialport: read: %w", err)
		}
		if read == 0 {
			return buf, ErrTimeout
		}
	}
	return buf, nil
}

// Write sends b in full, blocking.
func (p *Port) Write(b []byte) error {
	_, err := p.file.Write(b)
	if err != nil {
		return fmt.Errorf("serialport: write: %w", err)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (p *Port) Close() error {
	return p.file.Close()
}
