package capture

import (
	"fmt"

	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/settings"
)

// ApplyFallbacks downgrades the hardware encoder settings in s to what caps
// reports as available. It returns the adjusted settings and one warning per
// change. Settings for image sequence output are returned unchanged.
//
// When no hardware encoder is available the capture falls back to an image
// sequence if s allows it; otherwise the error wraps ErrHardwareUnavailable.
func ApplyFallbacks(s settings.Settings, caps nvenc.Capabilities) (settings.Settings, []string, error) {
	if s.OutputFormat != settings.OutputNVENC {
		return s, nil, nil
	}

	var warnings []string

	if !caps.HardwareAvailable {
		reason := caps.HardwareReason
		if reason == "" {
			reason = "NVENC is unavailable"
		}
		if s.AllowNVENCFallback {
			warnings = append(warnings, fmt.Sprintf("Falling back to PNG sequence because NVENC is unavailable: %s", reason))
			s.OutputFormat = settings.OutputImageSequence
			return s, warnings, nil
		}
		warnings = append(warnings, fmt.Sprintf("NVENC required but unavailable: %s", reason))
		return s, warnings, fmt.Errorf("%w: %s", ErrHardwareUnavailable, reason)
	}

	if s.Codec == settings.CodecHEVC && !caps.SupportsHEVC {
		warnings = append(warnings, unsupported("HEVC", caps.HEVCReason, "falling back to H.264"))
		s.Codec = settings.CodecH264
	}

	if s.ColorFormat == settings.ColorP010 && (!caps.Supports10Bit || !caps.SupportsP010) {
		warnings = append(warnings, unsupported("P010", caps.P010Reason, "switching to NV12"))
		s.ColorFormat = settings.ColorNV12
	}
	if s.ColorFormat == settings.ColorP010 && s.Codec != settings.CodecHEVC {
		warnings = append(warnings, "P010 requires HEVC - switching to NV12")
		s.ColorFormat = settings.ColorNV12
	}

	if s.ColorFormat == settings.ColorNV12 && !caps.SupportsNV12 {
		warnings = append(warnings, unsupported("NV12", caps.NV12Reason, "switching to BGRA"))
		s.ColorFormat = settings.ColorBGRA
	}

	if s.ZeroCopy && !caps.SupportsZeroCopy {
		warnings = append(warnings, unsupported("Zero-copy", caps.ZeroCopyReason, "disabling zero-copy"))
		s.ZeroCopy = false
	}

	return s, warnings, nil
}

func unsupported(feature, reason, action string) string {
	if reason == "" {
		return fmt.Sprintf("%s unsupported - %s", feature, action)
	}
	return fmt.Sprintf("%s unsupported (%s) - %s", feature, reason, action)
}
