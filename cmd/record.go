package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/omnicapture/internal/audio"
	"github.com/smazurov/omnicapture/internal/capture"
	"github.com/smazurov/omnicapture/internal/events"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/nvenc/ffmpegrt"
	"github.com/smazurov/omnicapture/internal/settings"
)

// CreateRecordCmd creates the record command.
func CreateRecordCmd() *cobra.Command {
	var (
		settingsFile string
		outputDir    string
		format       string
		frames       int
		duration     time.Duration
		noFinalize   bool
		runtimeDir   string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the synthetic rig without the API server",
		Long: `Runs one capture of the built-in test pattern using the capture settings file, ` +
			`stops after --frames frames or --duration (or on Ctrl+C) and finalizes the output.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := settings.Load(settingsFile)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			if outputDir != "" {
				s.OutputDirectory = outputDir
			}
			if format != "" {
				s.OutputFormat = settings.OutputFormat(format)
			}

			bus := events.New()
			unsubscribe := bus.Subscribe(func(e events.CaptureWarningEvent) {
				if e.Active {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", e.Warning)
				}
			})
			defer unsubscribe()

			controller := capture.New(capture.Options{
				Prober:      nvenc.NewProber(ffmpegrt.NewLoader(), nvenc.WithBundledDirectory(runtimeDir)),
				AudioSource: audio.NewToneSource(),
				Bus:         bus,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := controller.Begin(ctx, s); err != nil {
				printDiagnostics(cmd, controller.Diagnostics())
				return err
			}

			runCtx, cancelRun := context.WithCancel(ctx)
			go controller.Run(runCtx)
			waitForCapture(ctx, controller, frames, duration)
			cancelRun()

			// The interrupt context is done by now when the user pressed Ctrl+C.
			if err := controller.End(context.WithoutCancel(ctx), !noFinalize); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, controller.StatusString())
			if path := controller.LastFinalizedOutput(); path != "" {
				fmt.Fprintf(out, "Output: %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&settingsFile, "settings", "s", "capture.toml", "Capture settings file")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (overrides the settings file)")
	cmd.Flags().StringVar(&format, "format", "", "Output format: ImageSequence or NVENCHardware")
	cmd.Flags().IntVar(&frames, "frames", 0, "Stop after this many frames")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "Stop after this long (0 waits for Ctrl+C)")
	cmd.Flags().BoolVar(&noFinalize, "no-finalize", false, "Skip manifests and muxing")
	cmd.Flags().StringVar(&runtimeDir, "runtime-dir", "", "Directory searched for the encoder runtime")
	addLoggingFlags(cmd)
	return cmd
}

// waitForCapture blocks until the frame or time limit is reached, ctx is
// done or the capture stopped on its own.
func waitForCapture(ctx context.Context, c *capture.Controller, frames int, duration time.Duration) {
	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			st := c.Status()
			if !st.Capturing {
				return
			}
			if frames > 0 && st.Frames >= frames {
				return
			}
		}
	}
}

func printDiagnostics(cmd *cobra.Command, diags []capture.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintf(cmd.ErrOrStderr(), "[%6.2fs] %-7s %-24s %s\n", d.Elapsed, d.Level, d.Step, d.Message)
	}
}
