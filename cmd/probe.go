package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/nvenc/ffmpegrt"
	"github.com/smazurov/omnicapture/internal/store"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var (
		runtimeDir string
		output     string
		asJSON     bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe hardware encoder capabilities",
		Long: `Loads the encoder runtime, opens test sessions for H.264 and HEVC and ` +
			`reports which codecs and input formats the hardware encoder accepts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			prober := nvenc.NewProber(ffmpegrt.NewLoader(), nvenc.WithBundledDirectory(runtimeDir))
			caps := prober.Query(ctx)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(caps); err != nil {
					return err
				}
			} else {
				printCapabilities(out, caps)
			}

			if output != "" {
				if err := store.NewTOML(output).Save(caps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", output)
			}
			if !caps.HardwareAvailable {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runtimeDir, "runtime-dir", "", "Directory searched for the encoder runtime")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this TOML file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the capabilities as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall probe timeout")
	addLoggingFlags(cmd)
	return cmd
}

func printCapabilities(w io.Writer, caps nvenc.Capabilities) {
	fmt.Fprintln(w, caps.Summary())
	if caps.RuntimePath != "" {
		fmt.Fprintf(w, "  runtime:  %s\n", caps.RuntimePath)
	}

	rows := []struct {
		name   string
		ok     bool
		reason string
	}{
		{"runtime", caps.RuntimeLoaded, caps.RuntimeReason},
		{"apis", caps.APIsReady, caps.APIsReason},
		{"session", caps.SessionOpenable, caps.SessionReason},
		{"h264", caps.SupportsH264, caps.H264Reason},
		{"hevc", caps.SupportsHEVC, caps.HEVCReason},
		{"nv12", caps.SupportsNV12, caps.NV12Reason},
		{"p010", caps.SupportsP010, caps.P010Reason},
		{"bgra", caps.SupportsBGRA, caps.BGRAReason},
		{"zerocopy", caps.SupportsZeroCopy, caps.ZeroCopyReason},
	}
	for _, r := range rows {
		mark := "ok"
		if !r.ok {
			mark = "no"
		}
		if r.reason != "" {
			fmt.Fprintf(w, "  %-9s %s (%s)\n", r.name+":", mark, r.reason)
		} else {
			fmt.Fprintf(w, "  %-9s %s\n", r.name+":", mark)
		}
	}
}
