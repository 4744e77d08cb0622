/*
Package session coordinates the lifecycle of one active torrent download:
it admits peer candidates reported by the tracker, runs the periodic choke
cycle across connected peers and drives the download through verification
and announcement phases.

A Session reacts to events, it never blocks on I/O itself. All mutation of a
session happens on its dispatch goroutine: collaborators (tracker transport,
hash verification, DHT) deliver their results there through the session's
scheduler. Callers outside that goroutine must use the exported methods,
which route through it.
*/
package session
