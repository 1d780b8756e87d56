// Package httpserver runs the router's listeners and provides the access
// log middleware wrapped around the public handler.
package httpserver
