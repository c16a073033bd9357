package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/types"
	"github.com/wippyai/wasm-embed/wasi"
)

type runOptions struct {
	invoke  string
	env     []string
	dirs    []string
	timeout time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run <file.wasm> [args...]",
		Short: "Run a module's _start function or an exported function",
		Long: `Run links the module with WASI and calls _start, passing args to the
guest as argv. With --invoke the named export is called instead and args
are parsed as its parameters.

The guest's exit code from proc_exit becomes the exit code of wasmembed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, o, args[0], args[1:])
		},
	}
	cmd.Flags().StringVar(&o.invoke, "invoke", "", "Export to call instead of _start")
	cmd.Flags().StringArrayVar(&o.env, "env", nil, "Guest environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&o.dirs, "dir", nil, "Preopen host directory as host[:guest] (repeatable)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "Abort the call after this long (0 disables)")
	return cmd
}

func (o runOptions) wasiOptions(cmd *cobra.Command, file string, argv []string) ([]wasi.Option, error) {
	opts := []wasi.Option{
		wasi.WithStdin(cmd.InOrStdin()),
		wasi.WithStdout(cmd.OutOrStdout()),
		wasi.WithStderr(cmd.ErrOrStderr()),
	}
	if o.invoke == "" {
		opts = append(opts, wasi.WithArgs(append([]string{filepath.Base(file)}, argv...)...))
	}
	for _, kv := range o.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("--env %q: expected KEY=VALUE", kv))
		}
		opts = append(opts, wasi.WithEnv(k, v))
	}
	for _, d := range o.dirs {
		host, guest, ok := strings.Cut(d, ":")
		if !ok {
			guest = host
		}
		opts = append(opts, wasi.WithPreopen(host, guest))
	}
	return opts, nil
}

func (a *app) run(cmd *cobra.Command, o runOptions, file string, rest []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	wopts, err := o.wasiOptions(cmd, file, rest)
	if err != nil {
		return err
	}
	s, err := a.open(ctx, file, wopts...)
	if err != nil {
		return err
	}
	defer s.Close(context.Background())

	name := o.invoke
	var args []types.Value
	if name == "" {
		name = "_start"
	}
	fn, ok := s.inst.Function(name)
	if !ok {
		return errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	if o.invoke != "" {
		if args, err = parseArgs(fn.Type(), rest); err != nil {
			return err
		}
	}

	a.log.Debug("calling", zap.String("file", file), zap.String("function", name))
	results, err := s.exec.CallAsync(ctx, fn, args).Run(ctx)
	if err != nil {
		return exitStatus(err)
	}
	if len(results) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), formatValues(results))
	}
	return nil
}

// exitStatus turns a proc_exit trap into an exitError. A zero status is success.
func exitStatus(err error) error {
	var trap *errors.Trap
	if !stderrors.As(err, &trap) || trap.Kind != errors.TrapExit {
		return err
	}
	if trap.ExitCode == 0 {
		return nil
	}
	return &exitError{code: int(trap.ExitCode)}
}
