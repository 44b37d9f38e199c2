package staging

import (
	"fmt"

	"loanflow/internal/config"
	"loanflow/internal/loan"
)

// DefaultMaxSize is the default maximum size of one session's staging area
// (16MB).
const DefaultMaxSize int64 = 16 * 1024 * 1024

// Factory creates per-session staging areas of the configured type.
type Factory struct {
	kind    string
	dir     string
	maxSize int64
}

var _ loan.StagingFactory = (*Factory)(nil)

// NewFactoryFromConfig validates cfg and returns a Factory for it.
func NewFactoryFromConfig(cfg config.StagingConfig) (*Factory, error) {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	switch cfg.Type {
	case "memory":
	case "filesystem":
		if cfg.StagingDir == "" {
			return nil, fmt.Errorf("filesystem staging area requires staging_dir to be set")
		}
	default:
		return nil, fmt.Errorf("unknown staging area type: %s", cfg.Type)
	}
	return &Factory{kind: cfg.Type, dir: cfg.StagingDir, maxSize: maxSize}, nil
}

// NewArea creates the staging area of one session.
func (f *Factory) NewArea(sessionID string, limits loan.SlotLimits) (loan.FileStaging, error) {
	if f.kind == "filesystem" {
		return NewFileSystemStagingArea(f.dir, sessionID, limits, f.maxSize)
	}
	return NewMemoryStagingArea(limits, f.maxSize), nil
}
