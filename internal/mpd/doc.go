// Package mpd is the command pipeline on top of a session.Conn.
//
// Callers take turns through a one-slot serializer. The holder writes a
// command and waits for its frame before anyone else may write, so replies
// always pair with the command that produced them. On an unintentional loss
// the Client forgets the connection and cached status, notifies loss
// handlers and, when AutoReconnect is set, makes one asynchronous attempt to
// the last host and port.
package mpd
