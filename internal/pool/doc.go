// Package pool implements the named instance pool behind the dispatcher.
//
// A Pool draws a slot with a strategy.Selector and hands it to a Resolver:
//   - StaticResolver maps slots to a fixed list of instance URLs.
//   - DockerResolver runs each slot as a docker container, created on first
//     use and started again after it was put to sleep.
//
// Reap periodically puts idle docker instances to sleep.
package pool
