package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stanstork/pgtransfer/internal/handlers"
	"github.com/stanstork/pgtransfer/internal/middleware"
)

// NewRouter sets up the API routes
func NewRouter(transfer *handlers.TransferHandler, meta *handlers.MetadataHandler, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Metrics)

	router.HandleFunc("/", handlers.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Transfer job control
	tr := router.PathPrefix("/transfer").Subrouter()
	tr.HandleFunc("/start", transfer.Start).Methods(http.MethodPost)
	tr.HandleFunc("/status", transfer.Status).Methods(http.MethodGet)
	tr.HandleFunc("/stop", transfer.Stop).Methods(http.MethodPost)
	tr.HandleFunc("/logs", transfer.Logs).Methods(http.MethodGet)

	// Introspection
	db := router.PathPrefix("/database").Subrouter()
	db.HandleFunc("/schemas", meta.ListSchemas).Methods(http.MethodPost)
	db.HandleFunc("/tables", meta.ListTables).Methods(http.MethodPost)
	db.HandleFunc("/table-info", meta.TableInfo).Methods(http.MethodPost)

	return router
}
