package history

import (
	"time"

	"github.com/manash/jewelshoot/pkg/models"
)

type Operation string

const (
	OpGenerate   Operation = "generate"
	OpRegenerate Operation = "regenerate"
	OpEdit       Operation = "edit"
)

// Shoot is one source photo and everything generated from it.
type Shoot struct {
	ID          string
	Name        string
	SourcePath  string
	Resolution  models.ResolutionID
	AspectRatio models.AspectRatioID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Iteration is one image produced for a concept. ParentID points at the
// previous iteration of the same concept.
type Iteration struct {
	ID        string
	ShootID   string
	ConceptID string
	ParentID  string
	Operation Operation
	Style     models.Style
	Prompt    string
	ImagePath string
	CreatedAt time.Time
}
