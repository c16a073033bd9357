package wasi

import (
	"net"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/resource"
)

// DefaultSocketBase is the first descriptor handed out for sockets. Files
// opened by the guest are numbered from the preopens upward and stay below it.
const DefaultSocketBase uint32 = 1 << 16

type listenerEntry struct{ net.Listener }

func (l listenerEntry) Drop() { _ = l.Close() }

type connEntry struct{ net.Conn }

func (c connEntry) Drop() { _ = c.Close() }

// Sockets maps guest descriptors to host listeners and connections.
// Registered values are owned by the registry and closed when removed.
type Sockets struct {
	table *resource.Table
	base  uint32
}

// NewSockets creates an empty registry numbering descriptors from base.
// A zero base selects DefaultSocketBase.
func NewSockets(base uint32) *Sockets {
	if base == 0 {
		base = DefaultSocketBase
	}
	s := &Sockets{table: resource.NewTable(), base: base}
	s.table.Subscribe(s)
	return s
}

// OnResourceEvent logs sockets entering and leaving the registry.
func (s *Sockets) OnResourceEvent(e resource.Event) {
	msg := "socket opened"
	if e.Type == resource.EventDropped {
		msg = "socket closed"
	}
	Logger().Debug(msg, zap.Uint32("fd", s.fd(e.Handle)), zap.Stringer("kind", e.Kind))
}

// Base returns the first socket descriptor.
func (s *Sockets) Base() uint32 { return s.base }

// Listen registers l and returns its descriptor.
func (s *Sockets) Listen(l net.Listener) uint32 {
	return s.fd(s.table.Insert(resource.KindListener, listenerEntry{l}))
}

// Add registers an established connection and returns its descriptor.
func (s *Sockets) Add(c net.Conn) uint32 {
	return s.fd(s.table.Insert(resource.KindConn, connEntry{c}))
}

func (s *Sockets) fd(h resource.Handle) uint32 {
	if h == 0 {
		return 0
	}
	return s.base + uint32(h) - 1
}

func (s *Sockets) handle(fd uint32) (resource.Handle, bool) {
	if fd < s.base {
		return 0, false
	}
	return resource.Handle(fd - s.base + 1), true
}

// Listener returns the listener registered as fd.
func (s *Sockets) Listener(fd uint32) (net.Listener, bool) {
	h, ok := s.handle(fd)
	if !ok {
		return nil, false
	}
	v, ok := s.table.GetTyped(h, resource.KindListener)
	if !ok {
		return nil, false
	}
	return v.(listenerEntry).Listener, true
}

// Conn returns the connection registered as fd.
func (s *Sockets) Conn(fd uint32) (net.Conn, bool) {
	h, ok := s.handle(fd)
	if !ok {
		return nil, false
	}
	v, ok := s.table.GetTyped(h, resource.KindConn)
	if !ok {
		return nil, false
	}
	return v.(connEntry).Conn, true
}

// Contains reports whether fd is a registered socket.
func (s *Sockets) Contains(fd uint32) bool {
	h, ok := s.handle(fd)
	if !ok {
		return false
	}
	_, ok = s.table.Get(h)
	return ok
}

// Remove closes and forgets fd.
func (s *Sockets) Remove(fd uint32) bool {
	h, ok := s.handle(fd)
	if !ok {
		return false
	}
	_, ok = s.table.Remove(h)
	return ok
}

// Len returns the number of registered sockets.
func (s *Sockets) Len() int {
	return s.table.Len()
}

// Close closes every registered socket.
func (s *Sockets) Close() error {
	return s.table.Close()
}
