package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/convertworks/convertd/internal/engine"
	"github.com/convertworks/convertd/internal/ffmpeg"
	"github.com/convertworks/convertd/internal/history"
	"github.com/convertworks/convertd/internal/media"
	"github.com/convertworks/convertd/internal/version"
)

// handlers implements the typed API operations.
type handlers struct {
	orch    *engine.Orchestrator
	history *history.Store
	logger  *slog.Logger
}

// Register registers all operations with the API.
func (h *handlers) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "queueConversion",
		Method:        "POST",
		Path:          "/api/v1/conversions",
		Summary:       "Queue a conversion",
		Tags:          []string{"Conversions"},
		DefaultStatus: 202,
	}, h.QueueConversion)

	huma.Register(api, huma.Operation{
		OperationID: "listConversions",
		Method:      "GET",
		Path:        "/api/v1/conversions",
		Summary:     "List conversions",
		Tags:        []string{"Conversions"},
	}, h.ListConversions)

	huma.Register(api, huma.Operation{
		OperationID: "getConversion",
		Method:      "GET",
		Path:        "/api/v1/conversions/{id}",
		Summary:     "Get one conversion",
		Tags:        []string{"Conversions"},
	}, h.GetConversion)

	huma.Register(api, huma.Operation{
		OperationID:   "dropConversion",
		Method:        "DELETE",
		Path:          "/api/v1/conversions/{id}",
		Summary:       "Drop a finished conversion",
		Tags:          []string{"Conversions"},
		DefaultStatus: 204,
	}, h.DropConversion)

	huma.Register(api, huma.Operation{
		OperationID:   "pauseConversion",
		Method:        "POST",
		Path:          "/api/v1/conversions/{id}/pause",
		Summary:       "Pause a running conversion",
		Tags:          []string{"Conversions"},
		DefaultStatus: 204,
	}, h.PauseConversion)

	huma.Register(api, huma.Operation{
		OperationID:   "resumeConversion",
		Method:        "POST",
		Path:          "/api/v1/conversions/{id}/resume",
		Summary:       "Resume a paused conversion",
		Tags:          []string{"Conversions"},
		DefaultStatus: 204,
	}, h.ResumeConversion)

	huma.Register(api, huma.Operation{
		OperationID:   "cancelConversion",
		Method:        "POST",
		Path:          "/api/v1/conversions/{id}/cancel",
		Summary:       "Cancel a conversion",
		Tags:          []string{"Conversions"},
		DefaultStatus: 204,
	}, h.CancelConversion)

	huma.Register(api, huma.Operation{
		OperationID: "probeMedia",
		Method:      "POST",
		Path:        "/api/v1/probe",
		Summary:     "Probe a media file",
		Tags:        []string{"Media"},
	}, h.ProbeMedia)

	huma.Register(api, huma.Operation{
		OperationID: "getAvailableEncoders",
		Method:      "GET",
		Path:        "/api/v1/encoders",
		Summary:     "List available hardware encoders",
		Tags:        []string{"Media"},
	}, h.GetAvailableEncoders)

	huma.Register(api, huma.Operation{
		OperationID: "getMaxConcurrency",
		Method:      "GET",
		Path:        "/api/v1/settings/concurrency",
		Summary:     "Get the concurrency cap",
		Tags:        []string{"Settings"},
	}, h.GetMaxConcurrency)

	huma.Register(api, huma.Operation{
		OperationID: "setMaxConcurrency",
		Method:      "PUT",
		Path:        "/api/v1/settings/concurrency",
		Summary:     "Set the concurrency cap",
		Tags:        []string{"Settings"},
	}, h.SetMaxConcurrency)

	huma.Register(api, huma.Operation{
		OperationID: "listHistory",
		Method:      "GET",
		Path:        "/api/v1/history",
		Summary:     "List recent finished conversions",
		Tags:        []string{"History"},
	}, h.ListHistory)

	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      "GET",
		Path:        "/api/v1/version",
		Summary:     "Version information",
		Tags:        []string{"System"},
	}, h.GetVersion)
}

// mapError converts engine errors to HTTP status errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, engine.ErrTaskNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, engine.ErrDuplicateTask):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, engine.ErrTaskActive):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, media.ErrConfigInvalid):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, ffmpeg.ErrProbeFailed):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}

// QueueConversionInput is the queue_conversion request. Config is an open
// object; the engine's strict decoder rejects unknown fields so schema
// drift fails loudly there.
type QueueConversionInput struct {
	Body struct {
		ID         string `json:"id" doc:"Caller-assigned task id"`
		FilePath   string `json:"filePath" doc:"Absolute source file path"`
		OutputName string `json:"outputName,omitempty" doc:"Output name stem"`
		Config     any    `json:"config" doc:"Conversion configuration"`
	}
}

// QueueConversionOutput acknowledges the queued task.
type QueueConversionOutput struct {
	Body engine.Snapshot
}

// QueueConversion validates and enqueues a conversion.
func (h *handlers) QueueConversion(ctx context.Context, input *QueueConversionInput) (*QueueConversionOutput, error) {
	rawConfig, err := json.Marshal(input.Body.Config)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	if err := h.orch.Queue(ctx, input.Body.ID, input.Body.FilePath, input.Body.OutputName, rawConfig); err != nil {
		return nil, mapError(err)
	}

	snap, err := h.orch.Get(input.Body.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &QueueConversionOutput{Body: snap}, nil
}

// ConversionIDInput selects a task by id.
type ConversionIDInput struct {
	ID string `path:"id" doc:"Task id"`
}

// ListConversionsOutput holds all task snapshots.
type ListConversionsOutput struct {
	Body struct {
		Conversions []engine.Snapshot `json:"conversions"`
	}
}

// ListConversions returns all registered tasks.
func (h *handlers) ListConversions(ctx context.Context, _ *struct{}) (*ListConversionsOutput, error) {
	out := &ListConversionsOutput{}
	out.Body.Conversions = h.orch.List()
	return out, nil
}

// GetConversionOutput holds one task snapshot.
type GetConversionOutput struct {
	Body engine.Snapshot
}

// GetConversion returns one task.
func (h *handlers) GetConversion(ctx context.Context, input *ConversionIDInput) (*GetConversionOutput, error) {
	snap, err := h.orch.Get(input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &GetConversionOutput{Body: snap}, nil
}

// DropConversion removes a terminal task from the registry.
func (h *handlers) DropConversion(ctx context.Context, input *ConversionIDInput) (*struct{}, error) {
	if err := h.orch.Drop(input.ID); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}

// PauseConversion suspends a running task.
func (h *handlers) PauseConversion(ctx context.Context, input *ConversionIDInput) (*struct{}, error) {
	if err := h.orch.Pause(input.ID); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}

// ResumeConversion continues a paused task.
func (h *handlers) ResumeConversion(ctx context.Context, input *ConversionIDInput) (*struct{}, error) {
	if err := h.orch.Resume(input.ID); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}

// CancelConversion terminates a task.
func (h *handlers) CancelConversion(ctx context.Context, input *ConversionIDInput) (*struct{}, error) {
	if err := h.orch.Cancel(input.ID); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}

// ProbeMediaInput is the probe_media request.
type ProbeMediaInput struct {
	Body struct {
		FilePath string `json:"filePath" doc:"Absolute media file path"`
	}
}

// ProbeMediaOutput holds the probe result.
type ProbeMediaOutput struct {
	Body ffmpeg.SourceMetadata
}

// ProbeMedia probes a media file.
func (h *handlers) ProbeMedia(ctx context.Context, input *ProbeMediaInput) (*ProbeMediaOutput, error) {
	meta, err := h.orch.Probe(ctx, input.Body.FilePath)
	if err != nil {
		return nil, mapError(err)
	}
	return &ProbeMediaOutput{Body: *meta}, nil
}

// GetAvailableEncodersOutput holds the capability scan result.
type GetAvailableEncodersOutput struct {
	Body ffmpeg.AvailableEncoders
}

// GetAvailableEncoders reports hardware encoders linked into FFmpeg.
func (h *handlers) GetAvailableEncoders(ctx context.Context, _ *struct{}) (*GetAvailableEncodersOutput, error) {
	avail, err := h.orch.AvailableEncoders(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &GetAvailableEncodersOutput{Body: avail}, nil
}

// ConcurrencyBody carries the concurrency cap.
type ConcurrencyBody struct {
	MaxConcurrency int `json:"maxConcurrency" minimum:"1" doc:"Maximum simultaneous conversions"`
}

// GetMaxConcurrencyOutput holds the current cap.
type GetMaxConcurrencyOutput struct {
	Body ConcurrencyBody
}

// GetMaxConcurrency returns the current cap.
func (h *handlers) GetMaxConcurrency(ctx context.Context, _ *struct{}) (*GetMaxConcurrencyOutput, error) {
	return &GetMaxConcurrencyOutput{Body: ConcurrencyBody{MaxConcurrency: h.orch.MaxConcurrency()}}, nil
}

// SetMaxConcurrencyInput carries the new cap.
type SetMaxConcurrencyInput struct {
	Body ConcurrencyBody
}

// SetMaxConcurrency changes the cap at runtime.
func (h *handlers) SetMaxConcurrency(ctx context.Context, input *SetMaxConcurrencyInput) (*GetMaxConcurrencyOutput, error) {
	if err := h.orch.SetMaxConcurrency(input.Body.MaxConcurrency); err != nil {
		return nil, mapError(err)
	}
	return &GetMaxConcurrencyOutput{Body: ConcurrencyBody{MaxConcurrency: h.orch.MaxConcurrency()}}, nil
}

// ListHistoryInput selects how many records to return.
type ListHistoryInput struct {
	Limit int `query:"limit" default:"50" doc:"Maximum records to return"`
}

// ListHistoryOutput holds recent finished conversions.
type ListHistoryOutput struct {
	Body struct {
		Records []history.Record `json:"records"`
	}
}

// ListHistory returns recent finished conversions, newest first.
func (h *handlers) ListHistory(ctx context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
	out := &ListHistoryOutput{}
	out.Body.Records = []history.Record{}

	if h.history == nil {
		return out, nil
	}
	records, err := h.history.Recent(input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	out.Body.Records = records
	return out, nil
}

// HealthOutput is the health check response.
type HealthOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetHealth reports liveness.
func (h *handlers) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// VersionOutput is the version response.
type VersionOutput struct {
	Body version.Info
}

// GetVersion reports build information.
func (h *handlers) GetVersion(ctx context.Context, _ *struct{}) (*VersionOutput, error) {
	return &VersionOutput{Body: version.GetInfo()}, nil
}
