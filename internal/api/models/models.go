package models

import (
	"github.com/smazurov/omnicapture/internal/capture"
	"github.com/smazurov/omnicapture/internal/history"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/settings"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	Modified  bool   `json:"modified" example:"false" doc:"Built from a tree with uncommitted changes"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Capture models
type CaptureStatusResponse struct {
	Body capture.Status
}

// CaptureStartData overrides fields of the loaded capture settings for a
// single capture. Omitted fields keep their configured value.
type CaptureStartData struct {
	OutputDirectory   string                `json:"outputDirectory,omitempty" example:"/srv/captures" doc:"Output directory for this capture"`
	OutputFileName    string                `json:"outputFileName,omitempty" example:"Take01" doc:"Base file name"`
	OutputFormat      settings.OutputFormat `json:"outputFormat,omitempty" enum:"ImageSequence,NVENCHardware" doc:"Output format"`
	Codec             settings.Codec        `json:"codec,omitempty" enum:"H264,HEVC" doc:"Hardware codec"`
	Mode              settings.Mode         `json:"mode,omitempty" enum:"Mono,Stereo" doc:"Mono or stereo capture"`
	Projection        settings.Projection   `json:"projection,omitempty" doc:"Output projection"`
	Resolution        int                   `json:"resolution,omitempty" example:"4096" doc:"Cubemap face resolution"`
	TargetFrameRate   float64               `json:"targetFrameRate,omitempty" example:"60" doc:"Capture frame rate"`
	SegmentFrameCount int                   `json:"segmentFrameCount,omitempty" doc:"Rotate segments after this many frames"`
	RecordAudio       *bool                 `json:"recordAudio,omitempty" doc:"Record audio alongside video"`
}

// Apply writes the non-zero overrides onto s.
func (d *CaptureStartData) Apply(s *settings.Settings) {
	if d == nil {
		return
	}
	if d.OutputDirectory != "" {
		s.OutputDirectory = d.OutputDirectory
	}
	if d.OutputFileName != "" {
		s.OutputFileName = d.OutputFileName
	}
	if d.OutputFormat != "" {
		s.OutputFormat = d.OutputFormat
	}
	if d.Codec != "" {
		s.Codec = d.Codec
	}
	if d.Mode != "" {
		s.Mode = d.Mode
	}
	if d.Projection != "" {
		s.Projection = d.Projection
	}
	if d.Resolution != 0 {
		s.Resolution = d.Resolution
	}
	if d.TargetFrameRate != 0 {
		s.TargetFrameRate = d.TargetFrameRate
	}
	if d.SegmentFrameCount != 0 {
		s.SegmentFrameCount = d.SegmentFrameCount
	}
	if d.RecordAudio != nil {
		s.RecordAudio = *d.RecordAudio
	}
}

type CaptureStartRequest struct {
	Body *CaptureStartData `required:"false"`
}

type CaptureStopRequest struct {
	Finalize bool `query:"finalize" default:"true" doc:"Write manifests and mux segments after stopping"`
}

type DiagnosticsData struct {
	Diagnostics []capture.Diagnostic `json:"diagnostics" doc:"Diagnostics of the current or last attempt, oldest first"`
	LastError   string               `json:"lastError,omitempty" doc:"Most recent error"`
}

type DiagnosticsResponse struct {
	Body DiagnosticsData
}

type WarningsData struct {
	Warnings []string `json:"warnings" doc:"Active runtime warnings"`
}

type WarningsResponse struct {
	Body WarningsData
}

// Capability models
type CapabilitiesData struct {
	Capabilities nvenc.Capabilities `json:"capabilities"`
	Summary      string             `json:"summary" example:"NVENC ready: H264 HEVC NV12 P010" doc:"One line summary"`
	Cached       bool               `json:"cached" doc:"Whether the result came from the probe cache"`
}

type CapabilitiesResponse struct {
	Body CapabilitiesData
}

// History models
type HistoryListRequest struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum number of attempts"`
}

type HistoryListData struct {
	Attempts []history.Attempt `json:"attempts" doc:"Capture attempts, newest first"`
	Count    int               `json:"count" doc:"Number of attempts returned"`
}

type HistoryListResponse struct {
	Body HistoryListData
}

type HistoryGetRequest struct {
	ID int64 `path:"id" minimum:"1" doc:"Attempt row id"`
}

type HistoryGetResponse struct {
	Body history.Attempt
}

// Preview models
type PreviewOfferRequest struct {
	Body struct {
		SDP string `json:"sdp" minLength:"1" doc:"SDP offer from the viewer"`
	}
}

type PreviewOfferResponse struct {
	Body struct {
		SDP string `json:"sdp" doc:"SDP answer"`
	}
}

// Error response
type ErrorData struct {
	Status  string `json:"status" example:"error" doc:"Error status"`
	Message string `json:"message" example:"Capture already running" doc:"Error message"`
}
