// Package logging wraps log/slog with the attribute helpers and field
// conventions used across caster.
//
// All components log through *slog.Logger instances produced here. Loggers
// carry a standardized "component" attribute (NewComponentLogger), and
// warnings follow the cause + impact + next step convention via the
// event_type, impact, and error_hint fields.
package logging
