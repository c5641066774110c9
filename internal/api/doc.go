// Package api serves the gateway's local diagnostics HTTP API.
//
// Every route lives under /api/v1. Read-only views of the session, the
// state store and the RPC registry are open so a technician on the plant
// network can inspect the gateway without credentials. Routes that change
// state, run RPC methods or read the audit trail require a bearer token
// issued by package auth.
//
//	GET    /health               open
//	GET    /metrics              open
//	GET    /telemetry            open
//	GET    /state                open
//	GET    /state/{key}          open
//	GET    /rpc/methods          open
//	GET    /rpc/pending          open
//	PUT    /state/{key}          state:write
//	DELETE /state/{key}          state:write
//	POST   /rpc/{method}         rpc:invoke
//	GET    /audit                audit:read
//
// Errors are JSON documents of the form {"status", "code", "message"}.
package api
