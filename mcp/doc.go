// Package mcp exposes the token operation guard to MCP clients.
//
// The package serves the guard's operator surface as typed MCP tools over
// streamable HTTP or stdio. It is intended for agent workflows that review
// guard state, intervene on stuck locks or throttle blocks, and dry-run the
// validation pipeline against asset payloads before submitting them.
//
// # Tool surface
//
//   - guard.status: lock and attempt table sizes plus configured limits
//   - guard.lock.acquire / guard.lock.release: manual lock intervention
//   - guard.attempts.reset: lift a throttle block for one identifier
//   - guard.payload.validate: schema gate plus advisory pipeline, no locking
//   - guard.events.list: audit event review (requires a configured store)
//
// Tool failures carry a structured JSON envelope in the error text with a
// stable error_code, so agents can branch on outcomes without parsing prose.
//
// # Constructor and lifecycle
//
// Use NewServer with a *tokenguard.Guard, then either mount Handler on an
// HTTP mux or call Run to serve a stdio session:
//
//	srv := mcp.NewServer(guard, mcp.WithStore(auditStore), mcp.WithLogger(logger))
//
//	mux := http.NewServeMux()
//	mux.Handle("/mcp", srv.Handler())
//
// Run blocks until the context is cancelled or the session ends.
package mcp
