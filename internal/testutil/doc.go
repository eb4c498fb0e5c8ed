// Package testutil contains builders used across tests to assemble
// conversation histories and session states without repeating event
// constructors. Not intended for production usage.
package testutil
