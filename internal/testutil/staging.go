package testutil

import (
	"loanflow/internal/loan"
	"loanflow/internal/staging"
)

const (
	// DefaultStagingMaxSize is the default max size for test staging areas (10MB).
	DefaultStagingMaxSize = 10 * 1024 * 1024
)

// NewTestStagingArea creates a new in-memory staging area for testing.
func NewTestStagingArea(limits loan.SlotLimits) loan.FileStaging {
	return staging.NewMemoryStagingArea(limits, DefaultStagingMaxSize)
}

// StagingFactory creates in-memory staging areas.
type StagingFactory struct {
	MaxSize int64
}

var _ loan.StagingFactory = StagingFactory{}

// NewTestStagingFactory returns a factory of in-memory areas.
func NewTestStagingFactory() StagingFactory {
	return StagingFactory{MaxSize: DefaultStagingMaxSize}
}

func (f StagingFactory) NewArea(sessionID string, limits loan.SlotLimits) (loan.FileStaging, error) {
	return staging.NewMemoryStagingArea(limits, f.MaxSize), nil
}
