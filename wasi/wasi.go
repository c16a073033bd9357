package wasi

import (
	"crypto/rand"
	"io"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/types"
)

// ModuleName is the reserved namespace guests import WASI from.
const ModuleName = wasi_snapshot_preview1.ModuleName

// Entry describes one function of the namespace.
type Entry struct {
	Name string
	Type types.FuncType
	// Bridged entries may suspend the calling fiber while they wait.
	Bridged bool
	// Host entries are implemented by this package; the rest come from the
	// engine's WASI implementation.
	Host bool
}

func errnoFunc(params ...types.ValType) types.FuncType {
	return types.Func(params, []types.ValType{types.I32})
}

const (
	i32 = types.I32
	i64 = types.I64
)

var table = []Entry{
	{Name: "args_get", Type: errnoFunc(i32, i32)},
	{Name: "args_sizes_get", Type: errnoFunc(i32, i32)},
	{Name: "environ_get", Type: errnoFunc(i32, i32)},
	{Name: "environ_sizes_get", Type: errnoFunc(i32, i32)},
	{Name: "clock_res_get", Type: errnoFunc(i32, i32)},
	{Name: "clock_time_get", Type: errnoFunc(i32, i64, i32)},
	{Name: "fd_advise", Type: errnoFunc(i32, i64, i64, i32)},
	{Name: "fd_allocate", Type: errnoFunc(i32, i64, i64)},
	{Name: "fd_close", Type: errnoFunc(i32)},
	{Name: "fd_datasync", Type: errnoFunc(i32)},
	{Name: "fd_fdstat_get", Type: errnoFunc(i32, i32)},
	{Name: "fd_fdstat_set_flags", Type: errnoFunc(i32, i32)},
	{Name: "fd_fdstat_set_rights", Type: errnoFunc(i32, i64, i64)},
	{Name: "fd_filestat_get", Type: errnoFunc(i32, i32)},
	{Name: "fd_filestat_set_size", Type: errnoFunc(i32, i64)},
	{Name: "fd_filestat_set_times", Type: errnoFunc(i32, i64, i64, i32)},
	{Name: "fd_pread", Type: errnoFunc(i32, i32, i32, i64, i32)},
	{Name: "fd_prestat_get", Type: errnoFunc(i32, i32)},
	{Name: "fd_prestat_dir_name", Type: errnoFunc(i32, i32, i32)},
	{Name: "fd_pwrite", Type: errnoFunc(i32, i32, i32, i64, i32)},
	{Name: "fd_read", Type: errnoFunc(i32, i32, i32, i32)},
	{Name: "fd_readdir", Type: errnoFunc(i32, i32, i32, i64, i32)},
	{Name: "fd_renumber", Type: errnoFunc(i32, i32)},
	{Name: "fd_seek", Type: errnoFunc(i32, i64, i32, i32)},
	{Name: "fd_sync", Type: errnoFunc(i32)},
	{Name: "fd_tell", Type: errnoFunc(i32, i32)},
	{Name: "fd_write", Type: errnoFunc(i32, i32, i32, i32)},
	{Name: "path_create_directory", Type: errnoFunc(i32, i32, i32)},
	{Name: "path_filestat_get", Type: errnoFunc(i32, i32, i32, i32, i32)},
	{Name: "path_filestat_set_times", Type: errnoFunc(i32, i32, i32, i32, i64, i64, i32)},
	{Name: "path_link", Type: errnoFunc(i32, i32, i32, i32, i32, i32, i32)},
	{Name: "path_open", Type: errnoFunc(i32, i32, i32, i32, i32, i64, i64, i32, i32)},
	{Name: "path_readlink", Type: errnoFunc(i32, i32, i32, i32, i32, i32)},
	{Name: "path_remove_directory", Type: errnoFunc(i32, i32, i32)},
	{Name: "path_rename", Type: errnoFunc(i32, i32, i32, i32, i32, i32)},
	{Name: "path_symlink", Type: errnoFunc(i32, i32, i32, i32, i32)},
	{Name: "path_unlink_file", Type: errnoFunc(i32, i32, i32)},
	{Name: "poll_oneoff", Type: errnoFunc(i32, i32, i32, i32)},
	{Name: "proc_exit", Type: types.Func([]types.ValType{i32}, nil)},
	{Name: "proc_raise", Type: errnoFunc(i32)},
	{Name: "sched_yield", Type: errnoFunc()},
	{Name: "random_get", Type: errnoFunc(i32, i32)},
	{Name: "sock_accept", Type: errnoFunc(i32, i32, i32), Bridged: true, Host: true},
	{Name: "sock_recv", Type: errnoFunc(i32, i32, i32, i32, i32, i32), Bridged: true, Host: true},
	{Name: "sock_send", Type: errnoFunc(i32, i32, i32, i32, i32), Bridged: true, Host: true},
	{Name: "sock_shutdown", Type: errnoFunc(i32, i32), Host: true},
}

// Table returns the functions of the namespace in a fixed order.
func Table() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}

func entry(name string) Entry {
	for _, e := range table {
		if e.Name == name {
			return e
		}
	}
	panic("wasi: no table entry " + name)
}

type mount struct {
	host     string
	guest    string
	readOnly bool
}

// Option configures an Env.
type Option func(*Env)

// WithArgs sets the guest's argv, program name first.
func WithArgs(args ...string) Option {
	return func(e *Env) { e.args = append([]string(nil), args...) }
}

// WithEnv adds one environment variable.
func WithEnv(key, value string) Option {
	return func(e *Env) { e.env = append(e.env, [2]string{key, value}) }
}

// WithStdin sets the guest's standard input.
func WithStdin(r io.Reader) Option {
	return func(e *Env) { e.stdin = r }
}

// WithStdout sets the guest's standard output.
func WithStdout(w io.Writer) Option {
	return func(e *Env) { e.stdout = w }
}

// WithStderr sets the guest's standard error.
func WithStderr(w io.Writer) Option {
	return func(e *Env) { e.stderr = w }
}

// WithPreopen mounts the host directory at guest.
func WithPreopen(host, guest string) Option {
	return func(e *Env) { e.mounts = append(e.mounts, mount{host: host, guest: guest}) }
}

// WithReadOnlyPreopen mounts the host directory at guest without write access.
func WithReadOnlyPreopen(host, guest string) Option {
	return func(e *Env) { e.mounts = append(e.mounts, mount{host: host, guest: guest, readOnly: true}) }
}

// WithSockets shares a socket registry. The Env does not close it.
func WithSockets(s *Sockets) Option {
	return func(e *Env) {
		e.sockets = s
		e.ownsSockets = false
	}
}

// WithConfig applies the wasi section of the configuration: preopens
// given as "host" or "host:guest", and the host environment when
// InheritEnv is set.
func WithConfig(cfg config.WASIConfig) Option {
	return func(e *Env) {
		for _, p := range cfg.Preopens {
			host, guest, ok := strings.Cut(p, ":")
			if !ok {
				guest = host
			}
			e.mounts = append(e.mounts, mount{host: host, guest: guest})
		}
		if cfg.InheritEnv {
			for _, kv := range os.Environ() {
				if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
					e.env = append(e.env, [2]string{k, v})
				}
			}
		}
	}
}

// Env is the state behind one wasi_snapshot_preview1 namespace: the guest
// process configuration and the socket registry.
type Env struct {
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	sockets     *Sockets
	args        []string
	env         [][2]string
	mounts      []mount
	ownsSockets bool
}

// New creates an Env.
func New(opts ...Option) *Env {
	e := &Env{ownsSockets: true}
	for _, opt := range opts {
		opt(e)
	}
	if e.sockets == nil {
		e.sockets = NewSockets(0)
		e.ownsSockets = true
	}
	return e
}

// NewImportObject builds the namespace for a fresh Env.
func NewImportObject(opts ...Option) (*linker.ImportObject, error) {
	return New(opts...).ImportObject()
}

// Sockets returns the registry guests reach through sock_* calls.
func (e *Env) Sockets() *Sockets {
	return e.sockets
}

// ImportObject builds the namespace. Engine-provided functions come from
// the wazero exporter; sock_* entries are replaced by the bridged versions.
func (e *Env) ImportObject() (*linker.ImportObject, error) {
	b := linker.NewImportBuilder().WithExporter(wasi_snapshot_preview1.NewFunctionExporter())
	b.WithAsyncFunc("sock_accept", entry("sock_accept").Type, e.sockAccept).
		WithAsyncFunc("sock_recv", entry("sock_recv").Type, e.sockRecv).
		WithAsyncFunc("sock_send", entry("sock_send").Type, e.sockSend).
		WithFunc("sock_shutdown", entry("sock_shutdown").Type, e.sockShutdown)

	obj, err := b.Build(ModuleName)
	if err != nil {
		return nil, err
	}
	Logger().Debug("wasi namespace built",
		zap.Int("args", len(e.args)),
		zap.Int("env", len(e.env)),
		zap.Int("preopens", len(e.mounts)))
	return obj, nil
}

// ModuleConfig applies the guest process configuration. WASI reads args,
// environment, stdio and preopens from the calling module's configuration.
func (e *Env) ModuleConfig(mc wazero.ModuleConfig) wazero.ModuleConfig {
	mc = mc.WithArgs(e.args...).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)
	for _, kv := range e.env {
		mc = mc.WithEnv(kv[0], kv[1])
	}
	if e.stdin != nil {
		mc = mc.WithStdin(e.stdin)
	}
	if e.stdout != nil {
		mc = mc.WithStdout(e.stdout)
	}
	if e.stderr != nil {
		mc = mc.WithStderr(e.stderr)
	}
	if len(e.mounts) > 0 {
		fsc := wazero.NewFSConfig()
		for _, m := range e.mounts {
			if m.readOnly {
				fsc = fsc.WithReadOnlyDirMount(m.host, m.guest)
			} else {
				fsc = fsc.WithDirMount(m.host, m.guest)
			}
		}
		mc = mc.WithFSConfig(fsc)
	}
	return mc
}

// LinkOption configures a guest linked against this Env.
func (e *Env) LinkOption() linker.LinkOption {
	return linker.WithModuleConfig(e.ModuleConfig)
}

// Close closes the socket registry unless it was supplied with WithSockets.
func (e *Env) Close() error {
	if !e.ownsSockets {
		return nil
	}
	return e.sockets.Close()
}
