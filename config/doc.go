// Package config loads the router configuration from YAML files and
// ROUTER_* environment variables and validates it. It covers the public and
// admin listeners, routing rules, the instance pool (static URLs or docker
// containers) and logging.
package config
