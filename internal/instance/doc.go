// Package instance implements the forwarding handle for one backend
// instance. Requests pass through an httputil.ReverseProxy unchanged apart
// from the target address; the handle tracks in-flight requests, last
// activity and an EWMA of response times.
package instance
