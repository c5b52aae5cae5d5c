// Package memory holds in-process implementations of the repository
// interfaces. Service, handler and worker tests run against them; the server
// binary always wires the Mongo repositories and never imports this package.
package memory
