// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/store"
	"github.com/tomtom215/geotimeline/internal/validation"
)

// ParameterRequest sets a detection parameter snapshot either from a
// sensitivity level or from explicit thresholds. Version must echo the
// stored version when replacing the snapshot with the same valid_since.
type ParameterRequest struct {
	SensitivityLevel *int                       `json:"sensitivity_level,omitempty" validate:"omitempty,min=1,max=5"`
	Advanced         *models.DetectionParameter `json:"advanced,omitempty" validate:"-"`
	ValidSince       *time.Time                 `json:"valid_since,omitempty"`
	Version          int64                      `json:"version" validate:"min=0"`
}

// ParameterSet is the response of the parameter endpoints.
type ParameterSet struct {
	// Effective is the snapshot governing points recorded now.
	Effective models.DetectionParameter   `json:"effective"`
	Snapshots []models.DetectionParameter `json:"snapshots"`
}

func (req *ParameterRequest) build(user string) (models.DetectionParameter, error) {
	var p models.DetectionParameter
	switch {
	case req.SensitivityLevel != nil && req.Advanced != nil:
		return p, errors.New("set either sensitivity_level or advanced, not both")
	case req.SensitivityLevel != nil:
		var err error
		if p, err = models.ParametersForSensitivity(user, *req.SensitivityLevel); err != nil {
			return p, err
		}
	case req.Advanced != nil:
		p = *req.Advanced
		p.SensitivityLevel = models.SensitivityAdvanced
	default:
		return p, errors.New("sensitivity_level or advanced is required")
	}
	p.UserID = user
	p.Version = req.Version
	if req.ValidSince != nil {
		since := req.ValidSince.UTC()
		p.ValidSince = &since
	}
	return p, nil
}

func (h *Handler) parameterSet(r *http.Request, user string) (ParameterSet, error) {
	snapshots, err := h.store.DetectionParameters(r.Context(), user)
	if err != nil {
		return ParameterSet{}, err
	}
	if snapshots == nil {
		snapshots = []models.DetectionParameter{}
	}
	models.SortDetectionParameters(snapshots)
	return ParameterSet{
		Effective: models.ResolveDetectionParameter(snapshots, time.Now(), models.DefaultDetectionParameter(user)),
		Snapshots: snapshots,
	}, nil
}

// Parameters handles GET /api/v1/users/{user}/parameters.
func (h *Handler) Parameters(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user, err := userParam(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	set, err := h.parameterSet(r, user)
	if err != nil {
		rw.StoreError(err)
		return
	}
	rw.Success(set)
}

// SaveParameters handles POST /api/v1/users/{user}/parameters.
func (h *Handler) SaveParameters(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	user, err := userParam(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	h.limitBody(w, r)
	var req ParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON request body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.ValidationError(verr.Error(), verr.Details())
		return
	}
	p, err := req.build(user)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if verr := validation.ValidateStruct(&p); verr != nil {
		rw.ValidationError(verr.Error(), verr.Details())
		return
	}

	if err := h.store.SaveDetectionParameter(r.Context(), &p); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			rw.Conflict("parameters were changed concurrently, reload and retry")
			return
		}
		rw.StoreError(err)
		return
	}
	logging.Ctx(r.Context()).Info().
		Str("user_id", user).
		Int("sensitivity_level", p.SensitivityLevel).
		Int64("version", p.Version).
		Msg("detection parameters saved")

	if p.Version == 1 {
		rw.Created(p)
		return
	}
	rw.Success(p)
}
