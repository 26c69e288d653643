// Package logging provides the structured-logging convention shared by every
// component in this module. There is no package-level logger: each component
// holds its own zerolog.Logger, derived from whatever the caller supplied to
// its constructor, so behavior never depends on process-wide state.
package logging

import "github.com/rs/zerolog"

// Component derives a child logger tagged with the given component name.
// Callers pass zerolog.Nop() (the zero value) when they don't want logging;
// Component still returns a usable (silent) logger in that case.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Nop returns a logger that discards everything, for use as a default value
// in structs so components are usable without explicit wiring in tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
