package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/module"
)

func newCompileCmd(a *app) *cobra.Command {
	var (
		outDir string
		jobs   int
	)
	cmd := &cobra.Command{
		Use:   "compile <file.wasm>...",
		Short: "Compile modules ahead of time into an artifact directory",
		Long: `Compile validates every module with the engine and writes native
artifacts into the output directory. A store whose engine.cache_dir points
at that directory reuses them instead of compiling again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if outDir == "" {
				return errors.InvalidInput(errors.PhaseConfig, "--out is required")
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return errors.Wrap(errors.PhaseCompile, errors.KindArtifact, err, "create "+outDir)
			}

			loader := module.NewLoader(a.cfg, module.WithEngineValidation(), module.WithConcurrency(jobs))
			defer loader.Close(context.Background())

			mods, err := loader.LoadFiles(ctx, args)
			if err != nil {
				return err
			}
			defer func() {
				for _, m := range mods {
					_ = m.Close()
				}
			}()

			// Artifacts are located by modification time, so compilation into
			// the shared directory runs one module at a time.
			for i, m := range mods {
				if err := ctx.Err(); err != nil {
					return err
				}
				p, err := loader.CompileAOT(ctx, m, outDir)
				if err != nil {
					return err
				}
				a.log.Debug("compiled", zap.String("module", args[i]), zap.String("artifact", p))
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[i], p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Artifact directory")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "Modules loaded and validated in parallel")
	return cmd
}
