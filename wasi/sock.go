package wasi

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/fiber"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/types"
)

const (
	fdflagNonblock uint32 = 1 << 2
	recvPeek       uint32 = 1 << 0
	recvWaitall    uint32 = 1 << 1
	shutRD         uint32 = 1 << 0
	shutWR         uint32 = 1 << 1
)

type ioResult struct {
	err error
	n   int
}

type iovec struct {
	ptr uint32
	n   uint32
}

func result(e Errno) ([]types.Value, error) {
	return []types.Value{types.ValueI32(int32(e))}, nil
}

func arg(args []types.Value, i int) uint32 {
	return uint32(args[i].I32())
}

// badSocket picks the errno for a descriptor that is not the expected socket kind.
func (e *Env) badSocket(fd uint32) Errno {
	switch {
	case e.sockets.Contains(fd):
		return ErrnoInval
	case fd < e.sockets.Base():
		return ErrnoNotsock
	default:
		return ErrnoBadf
	}
}

// deadliner is a socket whose blocking calls can be interrupted.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// expired is a deadline in the past; it fails pending and future calls.
var expired = time.Unix(1, 0)

// await runs op on its own goroutine and suspends until it finishes. If the
// caller gives up first, because the session was cancelled or ctx ended,
// the socket's deadline is expired and op is waited for, so no call is left
// blocked on the socket. Anything op opened in the meantime is closed.
func await(ctx context.Context, sock deadliner, op func() (any, error)) (any, error) {
	fut := fiber.Go(ctx, func(context.Context) (any, error) { return op() })
	finished := false
	defer func() {
		if finished {
			return
		}
		discard := func() {
			<-fut.Done()
			v, _ := fut.Result()
			if c, ok := v.(io.Closer); ok {
				_ = c.Close()
			}
		}
		if sock == nil {
			go discard()
			return
		}
		_ = sock.SetDeadline(expired)
		discard()
	}()
	v, err := fiber.Await(ctx, fut)
	finished = fiber.Ready(fut)
	return v, err
}

// sockAccept implements sock_accept(fd, flags, result_fd) -> errno. With
// FDFLAGS_NONBLOCK it fails with EAGAIN when no connection is pending.
func (e *Env) sockAccept(ctx context.Context, caller *linker.Caller, args []types.Value) ([]types.Value, error) {
	fd, flags, resultPtr := arg(args, 0), arg(args, 1), arg(args, 2)
	if flags&^fdflagNonblock != 0 {
		return result(ErrnoInval)
	}
	l, ok := e.sockets.Listener(fd)
	if !ok {
		return result(e.badSocket(fd))
	}
	mem := caller.Memory()
	if mem == nil {
		return result(ErrnoFault)
	}

	nonblock := flags&fdflagNonblock != 0
	dl, _ := l.(deadliner)
	switch {
	case dl != nil && nonblock:
		_ = dl.SetDeadline(time.Now())
	case dl != nil:
		_ = dl.SetDeadline(time.Time{})
	case nonblock:
		return result(ErrnoNotsup)
	}

	v, err := await(ctx, dl, func() (any, error) { return l.Accept() })
	if err != nil {
		if nonblock && os.IsTimeout(err) {
			return result(ErrnoAgain)
		}
		Logger().Debug("sock_accept failed", zap.Uint32("fd", fd), zap.Error(err))
		return result(errnoOf(err))
	}

	nfd := e.sockets.Add(v.(net.Conn))
	if nfd == 0 {
		_ = v.(net.Conn).Close()
		return result(ErrnoMfile)
	}
	if !mem.WriteUint32Le(resultPtr, nfd) {
		e.sockets.Remove(nfd)
		return result(ErrnoFault)
	}
	return result(ErrnoSuccess)
}

// sockRecv implements
// sock_recv(fd, ri_data, ri_data_len, ri_flags, ro_datalen, ro_flags) -> errno.
func (e *Env) sockRecv(ctx context.Context, caller *linker.Caller, args []types.Value) ([]types.Value, error) {
	fd, iovs, iovsLen, flags := arg(args, 0), arg(args, 1), arg(args, 2), arg(args, 3)
	nPtr, flagsPtr := arg(args, 4), arg(args, 5)
	if flags&recvPeek != 0 || flags&^(recvPeek|recvWaitall) != 0 {
		return result(ErrnoNotsup)
	}
	conn, ok := e.sockets.Conn(fd)
	if !ok {
		return result(e.badSocket(fd))
	}
	mem := caller.Memory()
	if mem == nil {
		return result(ErrnoFault)
	}
	vecs, errno := readIovecs(mem, iovs, iovsLen)
	if errno != ErrnoSuccess {
		return result(errno)
	}

	buf := make([]byte, totalLen(vecs))
	_ = conn.SetDeadline(time.Time{})
	v, err := await(ctx, conn, func() (any, error) {
		var r ioResult
		if flags&recvWaitall != 0 {
			r.n, r.err = io.ReadFull(conn, buf)
		} else {
			r.n, r.err = conn.Read(buf)
		}
		return r, nil
	})
	if err != nil {
		return result(errnoOf(err))
	}
	r := v.(ioResult)
	if r.err != nil && r.n == 0 && !isEOF(r.err) {
		Logger().Debug("sock_recv failed", zap.Uint32("fd", fd), zap.Error(r.err))
		return result(errnoOf(r.err))
	}

	scatter(mem, vecs, buf[:r.n])
	if !mem.WriteUint32Le(nPtr, uint32(r.n)) || !mem.Write(flagsPtr, []byte{0, 0}) {
		return result(ErrnoFault)
	}
	return result(ErrnoSuccess)
}

// sockSend implements sock_send(fd, si_data, si_data_len, si_flags, so_datalen) -> errno.
func (e *Env) sockSend(ctx context.Context, caller *linker.Caller, args []types.Value) ([]types.Value, error) {
	fd, iovs, iovsLen, flags, nPtr := arg(args, 0), arg(args, 1), arg(args, 2), arg(args, 3), arg(args, 4)
	if flags != 0 {
		return result(ErrnoNotsup)
	}
	conn, ok := e.sockets.Conn(fd)
	if !ok {
		return result(e.badSocket(fd))
	}
	mem := caller.Memory()
	if mem == nil {
		return result(ErrnoFault)
	}
	vecs, errno := readIovecs(mem, iovs, iovsLen)
	if errno != ErrnoSuccess {
		return result(errno)
	}
	data := gather(mem, vecs)

	_ = conn.SetDeadline(time.Time{})
	v, err := await(ctx, conn, func() (any, error) {
		var r ioResult
		r.n, r.err = conn.Write(data)
		return r, nil
	})
	if err != nil {
		return result(errnoOf(err))
	}
	r := v.(ioResult)
	if r.err != nil && r.n == 0 {
		Logger().Debug("sock_send failed", zap.Uint32("fd", fd), zap.Error(r.err))
		return result(errnoOf(r.err))
	}
	if !mem.WriteUint32Le(nPtr, uint32(r.n)) {
		return result(ErrnoFault)
	}
	return result(ErrnoSuccess)
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// sockShutdown implements sock_shutdown(fd, how) -> errno. Shutting down
// both directions closes the socket and frees its descriptor.
func (e *Env) sockShutdown(_ context.Context, _ *linker.Caller, args []types.Value) ([]types.Value, error) {
	fd, how := arg(args, 0), arg(args, 1)
	if how == 0 || how&^(shutRD|shutWR) != 0 {
		return result(ErrnoInval)
	}
	if _, ok := e.sockets.Listener(fd); ok {
		e.sockets.Remove(fd)
		return result(ErrnoSuccess)
	}
	conn, ok := e.sockets.Conn(fd)
	if !ok {
		return result(e.badSocket(fd))
	}
	if how == shutRD|shutWR {
		e.sockets.Remove(fd)
		return result(ErrnoSuccess)
	}

	hc, ok := conn.(halfCloser)
	if !ok {
		return result(ErrnoNotsup)
	}
	var err error
	if how == shutRD {
		err = hc.CloseRead()
	} else {
		err = hc.CloseWrite()
	}
	return result(errnoOf(err))
}

func readIovecs(mem api.Memory, ptr, count uint32) ([]iovec, Errno) {
	size := uint64(mem.Size())
	if uint64(count)*8 > size {
		return nil, ErrnoFault
	}
	raw, ok := mem.Read(ptr, count*8)
	if !ok {
		return nil, ErrnoFault
	}
	vecs := make([]iovec, count)
	for i := range vecs {
		v := iovec{
			ptr: binary.LittleEndian.Uint32(raw[i*8:]),
			n:   binary.LittleEndian.Uint32(raw[i*8+4:]),
		}
		if uint64(v.ptr)+uint64(v.n) > size {
			return nil, ErrnoFault
		}
		vecs[i] = v
	}
	return vecs, ErrnoSuccess
}

func totalLen(vecs []iovec) uint64 {
	var n uint64
	for _, v := range vecs {
		n += uint64(v.n)
	}
	return n
}

func gather(mem api.Memory, vecs []iovec) []byte {
	out := make([]byte, 0, totalLen(vecs))
	for _, v := range vecs {
		b, _ := mem.Read(v.ptr, v.n)
		out = append(out, b...)
	}
	return out
}

func scatter(mem api.Memory, vecs []iovec, data []byte) {
	for _, v := range vecs {
		if len(data) == 0 {
			return
		}
		n := min(int(v.n), len(data))
		mem.Write(v.ptr, data[:n])
		data = data[n:]
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
