// Package httputil holds the response and request-body helpers shared by
// every handler. Handlers never touch http.ResponseWriter directly; going
// through these keeps the JSON envelope and error shape uniform across
// the public, management, and admin surfaces.
package httputil
