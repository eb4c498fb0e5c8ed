// Package executor implements the remote tool execution protocol.
//
// A daemon (Server) listens on a Unix socket and answers exactly one request
// per connection. Frames are the standard base64 encoding of a JSON document
// terminated by a newline:
//
//	request:  {"command": "ping"|"list_tools"|"execute", "tool_name": ..., "tool_args": {...}}
//	response: {"status": "success"|"error", "message": ...}
//
// Errors of an execute command are reported as "<Code>: <detail>" where Code
// is one of the core error codes. Client implements driver.Remote so the
// container driver can dispatch in-process tools to a daemon running inside
// the container.
package executor
