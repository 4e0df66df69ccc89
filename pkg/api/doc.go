// Package api wires the registry's domain services into the HTTP
// surface a pub client and an admin console speak: the publish
// protocol, the resolution path, and the admin CRUD surface. Routes
// are registered in one place, Server.setupRoutes, called by
// NewServer; the handler methods are grouped into per-concern files
// (publish_handlers.go, resolve_handlers.go, admin_handlers.go).
package api
