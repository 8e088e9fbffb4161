// Package logging provides structured logging with file rotation for notemind.
// By default logs go to stderr; when a file path is configured, logs are
// additionally written to a rotating file under ~/.notemind/logs/.
package logging
