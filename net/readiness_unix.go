//go:build unix

package net

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// pollReadable polls the descriptor of sc with a zero timeout.
func pollReadable(sc syscall.Conn) (Readiness, bool, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return ReadinessError, true, err
	}

	res, perr := NotReady, error(nil)
	cerr := raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			n, err := unix.Poll(fds, 0)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			switch {
			case err != nil:
				res, perr = ReadinessError, err
			case n == 0:
				res = NotReady
			case fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0:
				// POLLHUP: the next read returns EOF
				res = Ready
			case fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0:
				res, perr = ReadinessError, fmt.Errorf("poll revents %#x", fds[0].Revents)
			}
			return
		}
	})
	if cerr != nil {
		return ReadinessError, true, cerr
	}
	return res, true, perr
}
