// Package coordinator owns the local snapshot of all Moodo boxes.
//
// It merges three state sources into one consistent view:
//
//   - Poll: a periodic REST refresh (authoritative, replaces the snapshot)
//   - Stream: Socket.IO push updates, applied in receipt order
//   - Command: optimistic local updates applied the moment a command is
//     issued, confirmed or corrected by the cloud later
//
// Listeners (the Home Assistant publisher, the state history recorder)
// receive every change with its source tag, so consumers can distinguish
// confirmed state from optimistic state.
//
// # Failure handling
//
// A failed refresh marks the whole snapshot unavailable; listeners surface
// entities as unavailable instead of erroring. Auth failures trigger one
// re-login and retry; rate limiting pauses polling for a backoff window.
// Session tokens are renewed proactively ahead of expiry. Stream loss is
// never fatal - polling continues, and each stream reconnect forces a
// resync refresh to pick up anything missed while disconnected.
package coordinator
