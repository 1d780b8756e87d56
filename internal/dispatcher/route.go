package dispatcher

import "strings"

type Route int

const (
	RouteNotFound Route = iota
	RouteRoot
	RouteForward
)

func (r Route) String() string {
	switch r {
	case RouteRoot:
		return "root"
	case RouteForward:
		return "forward"
	default:
		return "not_found"
	}
}

// Classify maps a request path to its route. The prefix match is a plain
// string prefix, so "/gamer" forwards when prefix is "/game".
func Classify(path, prefix string) Route {
	switch {
	case path == "/":
		return RouteRoot
	case strings.HasPrefix(path, prefix):
		return RouteForward
	default:
		return RouteNotFound
	}
}
