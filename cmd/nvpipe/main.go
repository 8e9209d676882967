// Package main provides the CLI entry point for nvpipe.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/five82/nvpipe/internal/nvenc"
)

const (
	appName    = "nvpipe"
	appVersion = "0.1.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Pipelined NVENC H.264 encoding of shared D3D11 textures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Settings file (default ./nvpipe.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output for troubleshooting")

	root.AddCommand(newProbeCmd(), newSimulateCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s version %s\n", appName, appVersion)
			fmt.Fprintf(out, "NVENC API %s, %s/%s\n", nvenc.BuiltAgainst, runtime.GOOS, runtime.GOARCH)
		},
	}
}
