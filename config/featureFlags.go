package config

import (
	"os"
	"strings"
)

// Recognized values for PREORDER_DATA_SOURCE and PREORDER_APPROVAL_SURFACE.
// "fixture" swaps the commerce API / ticket surface for local fixture
// implementations; anything else means the real integrations.
const (
	SourceModeReal    = "real"
	SourceModeFixture = "fixture"
)

func DataSourceMode() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("PREORDER_DATA_SOURCE")))
	if v == SourceModeFixture {
		return SourceModeFixture
	}
	return SourceModeReal
}

func ApprovalSurfaceMode() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("PREORDER_APPROVAL_SURFACE")))
	if v == SourceModeFixture {
		return SourceModeFixture
	}
	return SourceModeReal
}

// DryRun disables outbound side effects (catalog untagging, email, uploads)
// while still computing and logging the full cycle.
//
// Set via env:
// - PREORDER_DRY_RUN=true
func DryRun() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("PREORDER_DRY_RUN")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
