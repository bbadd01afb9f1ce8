// Package moodo implements the Moodo cloud API client.
//
// It covers both halves of the cloud interface:
//
//   - REST (Client): login, box listing, and all box commands (power,
//     intensity, mode, shuffle, interval, per-slot fan speeds, favorites).
//     Base endpoint: https://rest.moodo.co/api, authenticated via a
//     session token header obtained from POST /login.
//
//   - Socket.IO stream (Stream): real-time box updates pushed by the
//     cloud. The server speaks Socket.IO v2 over Engine.IO v3; the stream
//     connects with direct websocket transport, authenticates with the
//     session token, and subscribes per device.
//
// # Echo suppression
//
// Every mutating REST command carries a generated restful_request_id.
// The cloud includes that ID in the stream event it broadcasts for the
// resulting state change. Client.ConsumeRequestID lets the stream consumer
// drop those echoes: our optimistic state already reflects the command, and
// applying the echo would momentarily revert newer local changes.
//
// # Error taxonomy
//
// All failures map onto four sentinels checked with errors.Is:
// ErrAuth (re-login required), ErrRateLimited (back off), ErrCommand
// (cloud rejected the request), ErrConnection (transport failure).
//
// # Security Considerations
//
//   - Session tokens and credentials are never logged.
//   - Token claims are parsed unverified only to schedule re-login; no
//     trust decision is ever based on them.
package moodo
