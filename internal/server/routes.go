// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func (g *Gateway) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", HealthHandler)
	mux.HandleFunc("/ws", g.WebSocketHandler)
	mux.HandleFunc("GET /messages/{userId}", g.HistoryHandler)
	mux.HandleFunc("GET /profile", g.ProfileHandler)
	mux.HandleFunc("GET /uploads/{file}", g.UploadHandler)
	return mux
}
