package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-embed/module"
)

func newInspectCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.wasm>",
		Short: "List a module's imports and exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := module.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Module: %s\n", args[0])
			if name := m.Name(); name != "" {
				fmt.Fprintf(out, "Name:   %s\n", name)
			}
			fmt.Fprintf(out, "SHA256: %s\n", m.Hash())

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "\nImports (%d):\n", len(m.Imports()))
			for _, d := range m.Imports() {
				fmt.Fprintf(w, "  %s\t%s.%s\t%s\n", d.Kind, d.Module, d.Name, d.Type)
			}
			fmt.Fprintf(w, "\nExports (%d):\n", len(m.Exports()))
			for _, d := range m.Exports() {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", d.Kind, d.Name, d.Type)
			}
			return w.Flush()
		},
	}
}
