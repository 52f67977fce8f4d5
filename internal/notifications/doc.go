// Package notifications delivers processing events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Individual event categories (received, completed, errors) can be
// toggled in configuration so operators only hear about what they care about.
//
// Extend this package if you need alternative transports; worker code depends
// only on the simple Service interface.
package notifications
