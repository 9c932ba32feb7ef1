// Package logging builds the zap logger used across the sieve.
//
// Logs always go to stderr by default; stdout is reserved for the
// "prime <v>" lines.
package logging
