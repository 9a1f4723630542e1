package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gnus-inc/audioplayers/internal/version"
)

// VersionHandler handles the version endpoint.
type VersionHandler struct{}

// NewVersionHandler creates a new version handler.
func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

// VersionOutput is the output for the version endpoint.
type VersionOutput struct {
	Body version.Info
}

// Register registers the version route with the API.
func (h *VersionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      "GET",
		Path:        "/api/v1/system/version",
		Summary:     "Build information",
		Tags:        []string{"System"},
	}, h.GetVersion)
}

// GetVersion returns build information for the running binary.
func (h *VersionHandler) GetVersion(_ context.Context, _ *struct{}) (*VersionOutput, error) {
	return &VersionOutput{Body: version.GetInfo()}, nil
}
