package capture

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/nvenc/nvenctest"
	"github.com/smazurov/omnicapture/internal/settings"
)

func hardwareSettings() settings.Settings {
	s := settings.Default()
	s.OutputFormat = settings.OutputNVENC
	return s
}

func fullCaps() nvenc.Capabilities {
	return nvenc.Capabilities{
		HardwareAvailable: true,
		SupportsH264:      true,
		SupportsHEVC:      true,
		SupportsNV12:      true,
		SupportsP010:      true,
		SupportsBGRA:      true,
		Supports10Bit:     true,
		SupportsZeroCopy:  true,
	}
}

func TestApplyFallbacks(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*settings.Settings)
		caps         func(*nvenc.Capabilities)
		wantFormat   settings.OutputFormat
		wantCodec    settings.Codec
		wantColor    settings.ColorFormat
		wantZeroCopy bool
		wantWarnings []string
		wantErr      error
	}{
		{
			name:         "everything supported",
			wantFormat:   settings.OutputNVENC,
			wantCodec:    settings.CodecHEVC,
			wantColor:    settings.ColorNV12,
			wantZeroCopy: true,
		},
		{
			name:         "no hardware with fallback",
			caps:         func(c *nvenc.Capabilities) { *c = nvenc.Capabilities{HardwareReason: "no device"} },
			wantFormat:   settings.OutputImageSequence,
			wantCodec:    settings.CodecHEVC,
			wantColor:    settings.ColorNV12,
			wantZeroCopy: true,
			wantWarnings: []string{"Falling back to PNG sequence because NVENC is unavailable: no device"},
		},
		{
			name:         "no hardware without fallback",
			mutate:       func(s *settings.Settings) { s.AllowNVENCFallback = false },
			caps:         func(c *nvenc.Capabilities) { *c = nvenc.Capabilities{HardwareReason: "no device"} },
			wantFormat:   settings.OutputNVENC,
			wantCodec:    settings.CodecHEVC,
			wantColor:    settings.ColorNV12,
			wantZeroCopy: true,
			wantWarnings: []string{"NVENC required but unavailable: no device"},
			wantErr:      ErrHardwareUnavailable,
		},
		{
			name:         "hevc unsupported",
			caps:         func(c *nvenc.Capabilities) { c.SupportsHEVC = false; c.HEVCReason = "old GPU" },
			wantFormat:   settings.OutputNVENC,
			wantCodec:    settings.CodecH264,
			wantColor:    settings.ColorNV12,
			wantZeroCopy: true,
			wantWarnings: []string{"HEVC unsupported (old GPU) - falling back to H.264"},
		},
		{
			name:         "hevc unsupported without reason",
			caps:         func(c *nvenc.Capabilities) { c.SupportsHEVC = false },
			wantFormat:   settings.OutputNVENC,
			wantCodec:    settings.CodecH264,
			wantColor:    settings.ColorNV12,
			wantZeroCopy: true,
			wantWarnings: []string{"HEVC unsupported - falling back to H.264"},
		},
		{
			name:   "p010 without 10-bit",
			mutate: func(s *settings.Settings) { s.ColorFormat = settings.ColorP010 },
			caps: func(c *nvenc.Capabilities) {
				c.Supports10Bit = false
				c.P010Reason = "no 10-bit"
			},
			wantFormat:   settings.OutputNVENC,
			wantCodec:    settings.CodecHEVC,
			wantColor:    settings.ColorNV12,
			wantZeroCopy: true,
			wantWarnings: []string{"P010 unsupported (no 10-bit) - switching to NV12"},
		},
		{
			name:         "nv12 unsupported",
			caps:         func(c *nvenc.Capabilities) { c.SupportsNV12 = false; c.NV12Reason = "rejected" },
			wantFormat:   settings.OutputNVENC,
			wantCodec:    settings.CodecHEVC,
			wantColor:    settings.ColorBGRA,
			wantZeroCopy: true,
			wantWarnings: []string{"NV12 unsupported (rejected) - switching to BGRA"},
		},
		{
			name:         "zero copy unsupported",
			caps:         func(c *nvenc.Capabilities) { c.SupportsZeroCopy = false; c.ZeroCopyReason = "cpu frames" },
			wantFormat:   settings.OutputNVENC,
			wantCodec:    settings.CodecHEVC,
			wantColor:    settings.ColorNV12,
			wantZeroCopy: false,
			wantWarnings: []string{"Zero-copy unsupported (cpu frames) - disabling zero-copy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := hardwareSettings()
			if tt.mutate != nil {
				tt.mutate(&s)
			}
			caps := fullCaps()
			if tt.caps != nil {
				tt.caps(&caps)
			}

			got, warnings, err := ApplyFallbacks(s, caps)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got.OutputFormat != tt.wantFormat {
				t.Errorf("OutputFormat = %s, want %s", got.OutputFormat, tt.wantFormat)
			}
			if got.Codec != tt.wantCodec {
				t.Errorf("Codec = %s, want %s", got.Codec, tt.wantCodec)
			}
			if got.ColorFormat != tt.wantColor {
				t.Errorf("ColorFormat = %s, want %s", got.ColorFormat, tt.wantColor)
			}
			if got.ZeroCopy != tt.wantZeroCopy {
				t.Errorf("ZeroCopy = %v, want %v", got.ZeroCopy, tt.wantZeroCopy)
			}
			if strings.Join(warnings, "\n") != strings.Join(tt.wantWarnings, "\n") {
				t.Errorf("warnings = %q, want %q", warnings, tt.wantWarnings)
			}
		})
	}
}

func TestApplyFallbacksIgnoresImageSequence(t *testing.T) {
	s := settings.Default()
	s.OutputFormat = settings.OutputImageSequence

	got, warnings, err := ApplyFallbacks(s, nvenc.Capabilities{})
	if err != nil || len(warnings) != 0 {
		t.Fatalf("got warnings %q, err %v", warnings, err)
	}
	if got.OutputFormat != settings.OutputImageSequence {
		t.Errorf("OutputFormat = %s", got.OutputFormat)
	}
}

func TestApplyFallbacksFromProbe(t *testing.T) {
	rt := nvenctest.New()
	rt.FailCodec(nvenc.CodecHEVC, errors.New("HEVC not licensed"))
	caps := nvenc.NewProber(rt.Loader()).Query(context.Background())

	s := hardwareSettings()
	s.Codec = settings.CodecHEVC
	s.ColorFormat = settings.ColorP010

	got, warnings, err := ApplyFallbacks(s, caps)
	if err != nil {
		t.Fatalf("ApplyFallbacks: %v", err)
	}
	if got.Codec != settings.CodecH264 || got.ColorFormat != settings.ColorNV12 {
		t.Fatalf("got %s + %s, want H264 + NV12", got.Codec, got.ColorFormat)
	}
	if !strings.HasPrefix(warnings[0], "HEVC unsupported (") {
		t.Errorf("first warning = %q", warnings[0])
	}
	if !strings.HasPrefix(warnings[1], "P010 unsupported (") {
		t.Errorf("second warning = %q", warnings[1])
	}
}
