// Package management declares the boundary to the GraphQL management
// API: the schema and resolvers are out of scope (spec.md §1, a "thin
// RPC surface"), so this package only types the interface the core
// exposes itself through and the CORS wiring the cmd entrypoint mounts
// it behind.
package management

import (
	"net/http"

	"github.com/rs/cors"
)

// Server is implemented by the out-of-scope management API. The core
// depends only on its ability to produce an http.Handler; everything
// about the GraphQL schema, resolvers, and mutation surface lives
// outside this module.
type Server interface {
	Handler() http.Handler
}

// Mount wraps a Server's handler with the CORS policy the teacher's
// API server applies at its network edge, per spec.md §6.
func Mount(mux *http.ServeMux, path string, srv Server, allowedOrigins []string) {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	mux.Handle(path, c.Handler(srv.Handler()))
}
