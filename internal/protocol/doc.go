// Package protocol owns the MPD wire contract and response parsing primitives.
//
// Ownership boundary:
// - command line formatting
// - greeting and version parsing
// - response decoders (status, multi-record listings, ACK faults)
// - error taxonomy shared by the frame, session and client layers
package protocol
