//go:build linux

package serialport

import "golang.org/x/sys/unix"

const (
	ioctlGets = unix.TCGETS
	ioctlSets = unix.TCSETS
)
