package studio

import (
	"slices"

	"github.com/manash/jewelshoot/pkg/models"
)

type Operation string

const (
	OpGenerate   Operation = "generate"
	OpRegenerate Operation = "regenerate"
	OpEdit       Operation = "edit"
)

type EventType string

const (
	EventSourceChanged  EventType = "source"
	EventSizingChanged  EventType = "sizing"
	EventStatusChanged  EventType = "status"
	EventConceptUpdated EventType = "concept"
	EventAuthRequired   EventType = "auth_required"
)

// Event describes one state change. Snapshot is the session state right
// after the change.
type Event struct {
	Type      EventType
	ConceptID string
	Operation Operation
	Prompt    string
	Err       error
	Snapshot  Snapshot
}

// Snapshot is an immutable view of the session. Version increases with
// every change, so consumers can drop out-of-order deliveries.
type Snapshot struct {
	Version     uint64               `json:"version"`
	Status      models.Status        `json:"status"`
	Error       string               `json:"error,omitempty"`
	Concepts    []models.Concept     `json:"concepts"`
	Resolution  models.ResolutionID  `json:"resolution"`
	AspectRatio models.AspectRatioID `json:"aspectRatio"`
	HasSource   bool                 `json:"hasSource"`
	PendingAuth bool                 `json:"pendingAuth"`
}

// AllLoaded reports whether no concept is waiting for an image.
func (s Snapshot) AllLoaded() bool {
	return allSettled(s.Concepts)
}

func (s Snapshot) Concept(id string) (models.Concept, bool) {
	i := slices.IndexFunc(s.Concepts, func(c models.Concept) bool { return c.ID == id })
	if i < 0 {
		return models.Concept{}, false
	}
	return s.Concepts[i], true
}

func allSettled(concepts []models.Concept) bool {
	for _, c := range concepts {
		if c.IsLoadingImage {
			return false
		}
	}
	return true
}

// replaceConcept returns a new list with the concept matching id rewritten
// by fn. The input list is never modified.
func replaceConcept(concepts []models.Concept, id string, fn func(models.Concept) models.Concept) ([]models.Concept, bool) {
	out := make([]models.Concept, len(concepts))
	found := false
	for i, c := range concepts {
		if c.ID == id {
			c = fn(c)
			found = true
		}
		out[i] = c
	}
	return out, found
}
