package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/wasi"
)

func newCallCmd(a *app) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "call <file.wasm> [function [args...]]",
		Short: "Call an exported function and print its results",
		Long: `Call links the module and calls one export with arguments parsed
from the command line according to its signature. With -i a terminal UI
lists every exported function and prompts for its arguments.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if interactive {
				return a.callInteractive(ctx, args[0])
			}
			if len(args) < 2 {
				return errors.InvalidInput(errors.PhaseConfig, "function name required without -i")
			}

			s, err := a.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer s.Close(context.Background())

			fn, ok := s.inst.Function(args[1])
			if !ok {
				return errors.NotFound(errors.PhaseRuntime, "export", args[1])
			}
			vals, err := parseArgs(fn.Type(), args[2:])
			if err != nil {
				return err
			}
			results, err := s.exec.Call(ctx, fn, vals)
			if err != nil {
				return exitStatus(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValues(results))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Pick the function in a terminal UI")
	return cmd
}

func (a *app) callInteractive(ctx context.Context, file string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.Unsupported(errors.PhaseConfig, "-i needs a terminal")
	}
	var out bytes.Buffer
	s, err := a.open(ctx, file, wasi.WithStdout(&out), wasi.WithStderr(&out))
	if err != nil {
		return err
	}
	defer s.Close(context.Background())

	p := tea.NewProgram(newPicker(ctx, file, s, &out), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
