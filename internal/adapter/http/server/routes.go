package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes - setups http routes
func setupRoutes(mux *http.ServeMux, routes *handlers) {
	// System health and Prometheus scrape target
	mux.HandleFunc("/health", routes.health.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())

	// Assignment lifecycle
	mux.HandleFunc("POST /orders/{order_id}/assign", routes.dispatch.Assign)       // Match one order to a driver
	mux.HandleFunc("POST /orders/{order_id}/reassign", routes.dispatch.Reassign)   // Cancel and rematch, excluding the old driver
	mux.HandleFunc("POST /orders/{order_id}/accept", routes.dispatch.Accept)       // Driver accepts the pending assignment
	mux.HandleFunc("POST /orders/{order_id}/pickup", routes.dispatch.PickedUp)     // Driver collected the order
	mux.HandleFunc("POST /orders/{order_id}/complete", routes.dispatch.Complete)   // Delivery finished
	mux.HandleFunc("POST /assignments/batch", routes.dispatch.BatchAssign)         // Drain the unassigned backlog
	mux.HandleFunc("GET /assignments/metrics", routes.dispatch.Metrics)            // Per-day assignment counters
	mux.HandleFunc("GET /assignments/waiting", routes.dispatch.Waiting)            // Orders parked for retry

	// Zones
	mux.HandleFunc("POST /zones", routes.zone.Create)
	mux.HandleFunc("GET /zones", routes.zone.List)
	mux.HandleFunc("GET /zones/optimal", routes.zone.Optimal)                      // Best zone for an idle driver
	mux.HandleFunc("GET /zones/{zone_id}", routes.zone.Get)
	mux.HandleFunc("PUT /zones/{zone_id}", routes.zone.Update)
	mux.HandleFunc("GET /zones/{zone_id}/statistics", routes.zone.Statistics)
	mux.HandleFunc("GET /zones/{zone_id}/neighbors", routes.zone.Neighbors)
	mux.HandleFunc("GET /zones/{zone_id}/drivers", routes.driver.InZone)

	// Drivers
	mux.HandleFunc("GET /drivers/online", routes.driver.Online)
	mux.HandleFunc("GET /drivers/nearby", routes.driver.Nearby)
	mux.HandleFunc("GET /drivers/{driver_id}", routes.driver.Get)
	mux.HandleFunc("GET /drivers/{driver_id}/location", routes.driver.Location)
	mux.HandleFunc("GET /drivers/{driver_id}/history", routes.driver.History)
	mux.HandleFunc("GET /drivers/{driver_id}/route", routes.dispatch.RoutePlan)    // Optimized stop sequence

	// Realtime feeds
	mux.HandleFunc("GET /ws/drivers/{driver_id}", routes.ws.DriverFeed)            // Driver state feed
	mux.HandleFunc("GET /ws/orders/{order_id}", routes.ws.OrderFeed)               // Order tracking subscribers
}
