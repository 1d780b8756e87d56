// Package strategy picks which pool slot serves a request.
//
//   - Random: uniform draw over [0, n), the default
//   - Round Robin: sequential cycling over [0, n)
//
// Selectors only produce indexes; resolving an index to a running instance
// is the pool's job.
package strategy
