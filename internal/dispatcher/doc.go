// Package dispatcher decides what happens to every inbound request: the
// root path gets a fixed text answer, paths under the forward prefix are
// proxied to one instance of the pool, and everything else is a 404.
package dispatcher
