//go:build unix

package lockmanager

import (
	"golang.org/x/sys/unix"
)

func (l *CaseLock) flockBlocking(exclusive bool) error {
	op := unix.LOCK_SH
	if exclusive {
		op = unix.LOCK_EX
	}
	return unix.Flock(int(l.file.Fd()), op)
}

func (l *CaseLock) flockUnlock() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}
