// Package httpserver provides the HTTP skeleton shared by impact-smc nodes.
//
// BaseServer wraps a chi router with request ids, panic recovery, request
// counting, optional CORS and structured request logs, and adds the standard
// node endpoints:
//
//   - /livez: liveness
//   - /readyz: readiness, 503 after /drain
//   - /drain and /undrain: readiness control for load balancers
//   - /debug: pprof, when EnablePprof is set
//
// Prometheus metrics are served on a separate listener (MetricsAddr).
//
// Protocol handlers plug in through RouteRegistrar:
//
//	node, _ := services.NewNode(nodeConfig)
//	srv, _ := httpserver.New(&httpserver.HTTPServerConfig{ListenAddr: ":5000", Log: log}, node)
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
