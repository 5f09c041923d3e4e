// Package handlers holds the pieces of the HTTP API that do not depend on the
// application layer: the response envelope, gin middleware and health checks.
//
// Middleware order on the engine:
//
//	engine.Use(
//	    handlers.RequestID(log),
//	    handlers.Recovery(),
//	    handlers.AccessLog(),
//	    handlers.SecurityHeaders(),
//	    handlers.CORS(origins),
//	)
//
// The user surface adds JWTAuth and NoCache; the internal surface adds
// APIKeyAuth. Errors from the application layer go through WriteError, which
// maps the shared error taxonomy to status codes:
//
//	not found             404
//	validation            400
//	already exists        409
//	service unavailable   503
//	other external errors 502
//	anything else         500
//
// Health checks run in parallel with a per-check timeout:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("postgres", conn.Ping)
//	checker.AddCheck("redis", cache.Ping)
package handlers
