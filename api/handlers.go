package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"ride-tracking-system/board"
	"ride-tracking-system/geo"
	"ride-tracking-system/matching"
	"ride-tracking-system/ride"
	"ride-tracking-system/session"
)

// DriverCache mirrors board changes to shared storage.
type DriverCache interface {
	Store(ctx context.Context, sessionID string, rec board.Record) error
	Remove(ctx context.Context, sessionID, driverID string) error
	ClearSession(ctx context.Context, sessionID string) error
	NearbyDrivers(ctx context.Context, sessionID string, center geo.Coordinate) ([]board.Record, error)
}

// RideRecorder persists accepted ride stages.
type RideRecorder interface {
	RecordStage(ctx context.Context, sessionID string, stage ride.Stage, dest ride.Destination) error
}

// RideHistory reads back what a RideRecorder persisted.
type RideHistory interface {
	Stage(ctx context.Context, sessionID string) (ride.Stage, error)
	History(ctx context.Context, sessionID string) ([]ride.Stage, error)
}

// Handler serves the session, driver and ride endpoints. Cache, Recorder and
// History are optional; cache and recorder failures are logged and never undo
// in-memory changes.
type Handler struct {
	Sessions *session.Manager
	Cache    DriverCache
	Recorder RideRecorder
	History  RideHistory
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.Sessions.Get(mux.Vars(r)["session_id"])
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// CreateSession starts a new map/ride session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Create()
	log.Info().Str("session", sess.ID).Msg("Session started")

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.ID,
		"ride":       sess.Descriptor(),
	})
}

// EndSession discards a session and its cached drivers
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if err := h.Sessions.End(sessionID); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if h.Cache != nil {
		if err := h.Cache.ClearSession(r.Context(), sessionID); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("Failed to clear cached drivers")
		}
	}

	log.Info().Str("session", sessionID).Msg("Session ended")
	w.WriteHeader(http.StatusNoContent)
}

// UpdateDriverLocation reconciles a driver sighting into the session board
func (h *Handler) UpdateDriverLocation(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var locationUpdate struct {
		Latitude  *float64 `json:"lat"`
		Longitude *float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&locationUpdate); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if locationUpdate.Latitude == nil || locationUpdate.Longitude == nil {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}

	sighting := board.Sighting{
		ID:  mux.Vars(r)["driver_id"],
		Lat: *locationUpdate.Latitude,
		Lng: *locationUpdate.Longitude,
	}
	result, rec, err := sess.Apply(sighting)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Cache != nil {
		if err := h.Cache.Store(r.Context(), sess.ID, rec); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Str("driver", sighting.ID).Msg("Failed to cache driver")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"driver_id": sighting.ID,
		"result":    result.String(),
	})
}

// RemoveDriver drops a driver from the session board
func (h *Handler) RemoveDriver(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	driverID := mux.Vars(r)["driver_id"]
	if !sess.RemoveDriver(driverID) {
		http.Error(w, "Driver not found", http.StatusNotFound)
		return
	}

	if h.Cache != nil {
		if err := h.Cache.Remove(r.Context(), sess.ID, driverID); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Str("driver", driverID).Msg("Failed to remove cached driver")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetDrivers returns the board snapshot, or the drivers near lat/lng when a
// radius is given
func (h *Handler) GetDrivers(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	if query.Get("radius") == "" {
		writeJSON(w, http.StatusOK, sess.Drivers())
		return
	}

	var values [3]float64
	for i, key := range []string{"lat", "lng", "radius"} {
		v, err := strconv.ParseFloat(query.Get(key), 64)
		if err != nil {
			http.Error(w, "Invalid "+key, http.StatusBadRequest)
			return
		}
		values[i] = v
	}

	drivers, err := sess.NearbyDrivers(geo.Coordinate{Lat: values[0], Lng: values[1]}, values[2])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if drivers == nil {
		drivers = []board.Record{}
	}
	writeJSON(w, http.StatusOK, drivers)
}

// GetNearestDriver returns the closest driver to lat/lng, widening the search
// until one is found
func (h *Handler) GetNearestDriver(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	lat, errLat := strconv.ParseFloat(query.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(query.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		http.Error(w, "Invalid lat or lng", http.StatusBadRequest)
		return
	}

	center := geo.Coordinate{Lat: lat, Lng: lng}
	driver, err := matching.FindNearestDriver(sess, center, matching.DefaultRadius, matching.DefaultMaxRetries)
	if errors.Is(err, matching.ErrNoDriverNearby) && h.Cache != nil {
		// drivers published by other instances only reach the shared cache
		cached, cacheErr := matching.FindNearestCachedDriver(r.Context(), h.Cache, sess.ID, center)
		if cacheErr == nil {
			driver, err = cached, nil
		} else if !errors.Is(cacheErr, matching.ErrNoDriverNearby) {
			log.Warn().Err(cacheErr).Str("session", sess.ID).Msg("Failed to search cached drivers")
		}
	}
	if err != nil {
		if errors.Is(err, matching.ErrNoDriverNearby) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

// GetRide returns the ride panel descriptor
func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Descriptor())
}

// GetRideHistory returns the stages recorded for the ride, oldest first
func (h *Handler) GetRideHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if h.History == nil {
		http.Error(w, "Ride history is not enabled", http.StatusNotImplemented)
		return
	}

	resp := struct {
		SessionID     string       `json:"session_id"`
		Stage         ride.Stage   `json:"stage"`
		RecordedStage *ride.Stage  `json:"recorded_stage,omitempty"`
		History       []ride.Stage `json:"history"`
	}{
		SessionID: sess.ID,
		Stage:     sess.Descriptor().Stage,
		History:   []ride.Stage{},
	}

	recorded, err := h.History.Stage(r.Context(), sess.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeJSON(w, http.StatusOK, resp)
		return
	case err != nil:
		log.Error().Err(err).Str("session", sess.ID).Msg("Failed to load ride stage")
		http.Error(w, "Failed to load ride history", http.StatusInternalServerError)
		return
	}
	resp.RecordedStage = &recorded

	history, err := h.History.History(r.Context(), sess.ID)
	if err != nil {
		log.Error().Err(err).Str("session", sess.ID).Msg("Failed to load ride history")
		http.Error(w, "Failed to load ride history", http.StatusInternalServerError)
		return
	}
	if history != nil {
		resp.History = history
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdvanceRide moves the ride into the requested stage
func (h *Handler) AdvanceRide(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var stageUpdate struct {
		Stage *ride.Stage `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&stageUpdate); err != nil || stageUpdate.Stage == nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	descriptor, err := sess.Advance(*stageUpdate.Stage)
	if err != nil {
		if errors.Is(err, ride.ErrIllegalTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if h.Recorder != nil {
		if err := h.Recorder.RecordStage(r.Context(), sess.ID, descriptor.Stage, sess.Destination()); err != nil {
			log.Error().Err(err).Str("session", sess.ID).Stringer("stage", descriptor.Stage).Msg("Failed to record ride stage")
		}
	}

	log.Info().Str("session", sess.ID).Stringer("stage", descriptor.Stage).Msg("Ride advanced")
	writeJSON(w, http.StatusOK, descriptor)
}

// SetDestination attaches the destination to the ride
func (h *Handler) SetDestination(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var dest ride.Destination
	if err := json.NewDecoder(r.Body).Decode(&dest); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, sess.SetDestination(dest.Name, dest.Address))
}
