// Package services holds shared helpers for caster's external service
// clients, including the context annotations that flow media and stage
// identifiers into structured logs.
package services
