//go:build !linux || !(amd64 || arm64)

package ringbuf

import "errors"

// ErrUnsupported is returned by futex-backed operations on platforms without
// a futex implementation. The file-backed device depends on them; the core
// protocol and the loopback device do not.
var ErrUnsupported = errors.New("ringbuf: futex operations not supported on this platform")

func futexWait(addr *uint32, val uint32) error {
	return ErrUnsupported
}

func futexWake(addr *uint32, n int) (int, error) {
	return 0, ErrUnsupported
}
