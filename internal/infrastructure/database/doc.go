// Package database provides SQLite persistence for the Moodo bridge.
//
// The bridge keeps a local history of box state changes so the HTTP API can
// serve recent history even when the time-series database is disabled or
// unreachable. SQLite is opened in WAL mode with a single writer, which
// matches the bridge's write pattern (one coordinator goroutine).
//
// Schema migrations are embedded into the binary via the migrations package
// and applied automatically on startup.
package database
