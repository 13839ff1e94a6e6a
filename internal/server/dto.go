package server

import (
	"time"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/pkg/models"
)

// Images travel as data URLs in both directions.

type planRequest struct {
	Image string `json:"image" validate:"required"`
}

type planResponse struct {
	Concepts []models.ConceptBrief `json:"concepts"`
}

type generateImageRequest struct {
	Image       string `json:"image" validate:"required"`
	Prompt      string `json:"prompt" validate:"required"`
	Resolution  string `json:"resolution" validate:"omitempty,oneof=2k 4k 8k"`
	AspectRatio string `json:"aspectRatio" validate:"omitempty,oneof=square reels"`
}

type imageResponse struct {
	Image string `json:"image"`
}

type createSessionRequest struct {
	Image       string `json:"image" validate:"required"`
	Resolution  string `json:"resolution" validate:"omitempty,oneof=2k 4k 8k"`
	AspectRatio string `json:"aspectRatio" validate:"omitempty,oneof=square reels"`
}

type sizingRequest struct {
	Resolution  string `json:"resolution" validate:"required,oneof=2k 4k 8k"`
	AspectRatio string `json:"aspectRatio" validate:"required,oneof=square reels"`
}

type editRequest struct {
	Instruction string `json:"instruction" validate:"max=2000"`
}

type saveRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type feedbackRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
	ReplyTo string `json:"replyTo"`
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type conceptResponse struct {
	ID             string       `json:"id"`
	Style          models.Style `json:"style"`
	StyleLabel     string       `json:"styleLabel"`
	Description    string       `json:"description"`
	Elements       []string     `json:"elements"`
	Image          string       `json:"image,omitempty"`
	IsLoadingImage bool         `json:"isLoadingImage"`
}

type snapshotResponse struct {
	ID          string               `json:"id"`
	Version     uint64               `json:"version"`
	Status      models.Status        `json:"status"`
	Error       string               `json:"error,omitempty"`
	Concepts    []conceptResponse    `json:"concepts"`
	Resolution  models.ResolutionID  `json:"resolution"`
	AspectRatio models.AspectRatioID `json:"aspectRatio"`
	HasSource   bool                 `json:"hasSource"`
	PendingAuth bool                 `json:"pendingAuth"`
}

func newSnapshotResponse(id string, s studio.Snapshot) snapshotResponse {
	concepts := make([]conceptResponse, len(s.Concepts))
	for i, c := range s.Concepts {
		concepts[i] = conceptResponse{
			ID:             c.ID,
			Style:          c.Style,
			StyleLabel:     c.Style.Label(),
			Description:    c.Description,
			Elements:       c.Elements,
			IsLoadingImage: c.IsLoadingImage,
		}
		if c.Image != nil {
			concepts[i].Image = c.Image.DataURL()
		}
	}
	return snapshotResponse{
		ID:          id,
		Version:     s.Version,
		Status:      s.Status,
		Error:       s.Error,
		Concepts:    concepts,
		Resolution:  s.Resolution,
		AspectRatio: s.AspectRatio,
		HasSource:   s.HasSource,
		PendingAuth: s.PendingAuth,
	}
}

type resumeResponse struct {
	Resumed bool             `json:"resumed"`
	Session snapshotResponse `json:"session"`
}

type usageResponse struct {
	Authenticated bool       `json:"authenticated"`
	TrialCount    int        `json:"trialCount"`
	Remaining     int        `json:"remaining"`
	LastUsed      *time.Time `json:"lastUsed,omitempty"`
}

type authResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	User         auth.User `json:"user"`
}

func newAuthResponse(s auth.Session) authResponse {
	return authResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		User:         auth.User{ID: s.UserID, Email: s.Email},
	}
}
