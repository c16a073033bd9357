package wasi

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Errno is a wasi_snapshot_preview1 error number.
type Errno uint32

const (
	ErrnoSuccess      Errno = 0
	ErrnoAcces        Errno = 2
	ErrnoAddrinuse    Errno = 3
	ErrnoAddrnotavail Errno = 4
	ErrnoAgain        Errno = 6
	ErrnoBadf         Errno = 8
	ErrnoConnaborted  Errno = 13
	ErrnoConnrefused  Errno = 14
	ErrnoConnreset    Errno = 15
	ErrnoFault        Errno = 21
	ErrnoHostunreach  Errno = 23
	ErrnoInval        Errno = 28
	ErrnoIO           Errno = 29
	ErrnoMfile        Errno = 33
	ErrnoMsgsize      Errno = 35
	ErrnoNetunreach   Errno = 40
	ErrnoNomem        Errno = 48
	ErrnoNotconn      Errno = 53
	ErrnoNotsock      Errno = 57
	ErrnoNotsup       Errno = 58
	ErrnoPipe         Errno = 64
	ErrnoTimedout     Errno = 73
)

var errnoNames = map[Errno]string{
	ErrnoSuccess:      "ESUCCESS",
	ErrnoAcces:        "EACCES",
	ErrnoAddrinuse:    "EADDRINUSE",
	ErrnoAddrnotavail: "EADDRNOTAVAIL",
	ErrnoAgain:        "EAGAIN",
	ErrnoBadf:         "EBADF",
	ErrnoConnaborted:  "ECONNABORTED",
	ErrnoConnrefused:  "ECONNREFUSED",
	ErrnoConnreset:    "ECONNRESET",
	ErrnoFault:        "EFAULT",
	ErrnoHostunreach:  "EHOSTUNREACH",
	ErrnoInval:        "EINVAL",
	ErrnoIO:           "EIO",
	ErrnoMfile:        "EMFILE",
	ErrnoMsgsize:      "EMSGSIZE",
	ErrnoNetunreach:   "ENETUNREACH",
	ErrnoNomem:        "ENOMEM",
	ErrnoNotconn:      "ENOTCONN",
	ErrnoNotsock:      "ENOTSOCK",
	ErrnoNotsup:       "ENOTSUP",
	ErrnoPipe:         "EPIPE",
	ErrnoTimedout:     "ETIMEDOUT",
}

func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return "EIO"
}

// errnoOf converts a net or io error to the closest errno.
func errnoOf(err error) Errno {
	if err == nil {
		return ErrnoSuccess
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrnoBadf
	}
	if errors.Is(err, io.ErrClosedPipe) {
		return ErrnoPipe
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fromSyscall(errno)
	}
	if os.IsTimeout(err) {
		return ErrnoTimedout
	}
	if os.IsPermission(err) {
		return ErrnoAcces
	}
	return ErrnoIO
}

func fromSyscall(errno syscall.Errno) Errno {
	switch errno {
	case syscall.EACCES, syscall.EPERM:
		return ErrnoAcces
	case syscall.EADDRINUSE:
		return ErrnoAddrinuse
	case syscall.EADDRNOTAVAIL:
		return ErrnoAddrnotavail
	case syscall.ECONNREFUSED:
		return ErrnoConnrefused
	case syscall.ECONNRESET:
		return ErrnoConnreset
	case syscall.ECONNABORTED:
		return ErrnoConnaborted
	case syscall.EHOSTUNREACH:
		return ErrnoHostunreach
	case syscall.ENETUNREACH:
		return ErrnoNetunreach
	case syscall.ETIMEDOUT:
		return ErrnoTimedout
	case syscall.EINVAL:
		return ErrnoInval
	case syscall.ENOMEM:
		return ErrnoNomem
	case syscall.EAGAIN:
		return ErrnoAgain
	case syscall.ENOTSOCK:
		return ErrnoNotsock
	case syscall.ENOTCONN:
		return ErrnoNotconn
	case syscall.EPIPE:
		return ErrnoPipe
	case syscall.EMSGSIZE:
		return ErrnoMsgsize
	case syscall.EMFILE, syscall.ENFILE:
		return ErrnoMfile
	default:
		return ErrnoIO
	}
}
