// Package interfaces holds the small, dependency-free interfaces shared
// between the root package and its internal collaborators (reactor,
// sockctrl) so that neither side needs to import the other.
package interfaces

// Logger is the shape every component that logs accepts as an optional
// dependency. A nil Logger means "don't log" — internal/logging.Logger
// satisfies this.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}
