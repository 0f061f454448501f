package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

func RegisterRoutes(h *Handler, allowedOrigins []string) http.Handler {
	router := mux.NewRouter()

	// Session endpoints
	router.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	router.HandleFunc("/sessions/{session_id}", h.EndSession).Methods("DELETE")

	// Driver board endpoints
	router.HandleFunc("/sessions/{session_id}/drivers", h.GetDrivers).Methods("GET")
	router.HandleFunc("/sessions/{session_id}/drivers/nearest", h.GetNearestDriver).Methods("GET")
	router.HandleFunc("/sessions/{session_id}/drivers/{driver_id}/location", h.UpdateDriverLocation).Methods("PUT")
	router.HandleFunc("/sessions/{session_id}/drivers/{driver_id}", h.RemoveDriver).Methods("DELETE")

	// Ride endpoints
	router.HandleFunc("/sessions/{session_id}/ride", h.GetRide).Methods("GET")
	router.HandleFunc("/sessions/{session_id}/ride/history", h.GetRideHistory).Methods("GET")
	router.HandleFunc("/sessions/{session_id}/ride/stage", h.AdvanceRide).Methods("PUT")
	router.HandleFunc("/sessions/{session_id}/ride/destination", h.SetDestination).Methods("PUT")

	// Add CORS support
	cors := handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	return handlers.CombinedLoggingHandler(log.Logger, cors(router))
}
