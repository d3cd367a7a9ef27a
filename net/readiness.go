package net

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// Readiness is the result of a non-blocking check for inbound data.
type Readiness int

const (
	NotReady Readiness = iota
	Ready
	ReadinessError
)

func (r Readiness) String() string {
	switch r {
	case NotReady:
		return "not_ready"
	case Ready:
		return "ready"
	default:
		return "error"
	}
}

// peekTimeout bounds the fallback check for conns without a pollable descriptor.
const peekTimeout = time.Millisecond

// checkReadiness reports whether a read on conn would return without blocking.
// It never consumes bytes. A closed peer counts as Ready, since the following
// read reports the close.
func checkReadiness(conn net.Conn, br *bufio.Reader) (Readiness, error) {
	if conn == nil {
		return NotReady, nil
	}
	if br != nil && br.Buffered() > 0 {
		return Ready, nil
	}
	if sc, ok := conn.(syscall.Conn); ok {
		if r, supported, err := pollReadable(sc); supported {
			return r, err
		}
	}
	if br == nil {
		return ReadinessError, errors.New("readiness: no buffered reader for peek")
	}
	return peekReadable(conn, br)
}

func peekReadable(conn net.Conn, br *bufio.Reader) (Readiness, error) {
	if err := conn.SetReadDeadline(time.Now().Add(peekTimeout)); err != nil {
		return ReadinessError, err
	}
	_, err := br.Peek(1)
	if derr := conn.SetReadDeadline(time.Time{}); derr != nil && err == nil {
		return ReadinessError, derr
	}
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return Ready, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return NotReady, nil
	default:
		return ReadinessError, err
	}
}
