// Package session owns one TCP connection to the daemon.
//
// A Conn reads the greeting, then runs a single reader goroutine that feeds
// the frame decoder and hands completed frames to the caller through a
// channel of capacity one. The reader blocks while the slot is full.
// Ordering of requests is the caller's job; see internal/mpd.
package session
