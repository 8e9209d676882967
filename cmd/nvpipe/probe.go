package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/nvenc"
	"github.com/five82/nvpipe/internal/session"
	"github.com/five82/nvpipe/internal/sim"
	"github.com/five82/nvpipe/internal/util"
)

type probeArgs struct {
	adapter int
	sim     bool
}

func newProbeCmd() *cobra.Command {
	var pa probeArgs
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report the driver API version, adapters and H.264 encoder capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executeProbe(cmd.OutOrStdout(), pa)
		},
	}
	cmd.Flags().IntVar(&pa.adapter, "gpu", 0, "Adapter index to open")
	cmd.Flags().BoolVar(&pa.sim, "sim", false, "Probe the simulated backend instead of the driver")
	return cmd
}

func executeProbe(out io.Writer, pa probeArgs) error {
	bold := color.New(color.Bold)

	if v, err := nvenc.MaxSupportedVersion(); err != nil {
		fmt.Fprintf(out, "%s unavailable (%v)\n", bold.Sprint("Driver API:"), err)
	} else {
		status := color.GreenString("ok")
		if !v.Supports(nvenc.BuiltAgainst) {
			status = color.RedString("too old, need %s", nvenc.BuiltAgainst)
		}
		fmt.Fprintf(out, "%s %s (%s)\n", bold.Sprint("Driver API:"), v, status)
	}

	var (
		dev gpu.Device
		lib nvenc.Library
		err error
	)
	if pa.sim {
		dev, lib = sim.NewDevice(), sim.NewLibrary(sim.Options{})
	} else {
		if adapters, err := gpu.Adapters(); err == nil {
			fmt.Fprintln(out, bold.Sprint("Adapters:"))
			for _, a := range adapters {
				fmt.Fprintf(out, "  %d: %s (%04x:%04x, %s)\n", a.Index, a.Description,
					a.VendorID, a.DeviceID, util.FormatBytes(a.DedicatedVideoMemory))
			}
		}
		if dev, err = gpu.Bind(pa.adapter); err != nil {
			return err
		}
		if lib, err = nvenc.Load(); err != nil {
			dev.Release()
			return fmt.Errorf("load NVENC library: %w", err)
		}
	}
	defer dev.Release()

	enc, err := lib.OpenSession(dev)
	if err != nil {
		return fmt.Errorf("open encode session on %s: %w", dev.Adapter().Description, err)
	}
	defer func() { _ = enc.Destroy() }()

	caps, err := session.QueryCaps(enc)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", bold.Sprint("H.264 encoder on"), dev.Adapter().Description)
	printCaps(out, caps)
	return nil
}

func printCaps(out io.Writer, c session.Caps) {
	yes := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  Max resolution\t%dx%d\n", c.MaxWidth, c.MaxHeight)
	fmt.Fprintf(tw, "  Max B-frames\t%d\n", c.MaxBFrames)
	fmt.Fprintf(tw, "  Async encode\t%s\n", yes(c.Async))
	fmt.Fprintf(tw, "  Dynamic bitrate\t%s\n", yes(c.DynamicBitrate))
	fmt.Fprintf(tw, "  Lossless\t%s\n", yes(c.Lossless))
	fmt.Fprintf(tw, "  Lookahead\t%s\n", yes(c.Lookahead))
	fmt.Fprintf(tw, "  Temporal AQ\t%s\n", yes(c.TemporalAQ))
	_ = tw.Flush()
}
