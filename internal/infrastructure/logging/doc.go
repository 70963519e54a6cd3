// Package logging configures log/slog for hublink.
//
// A Logger is an *slog.Logger carrying service and version attributes,
// writing JSON or text to stdout or stderr. Two levels exist beyond slog's
// own: trace sits below debug and fatal above error. HUBLINK_LOG_LEVEL,
// when set, replaces the configured level.
//
// Components below this package take a small Logger interface instead, so
// they can be tested without one and stay silent when none is set:
//
//	sock.SetLogger(log.With("component", "socket"))
//
// Never log the hub token or broker credentials.
package logging
