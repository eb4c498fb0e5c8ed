// Package memory contains the conversation log backends. The contract,
// core.Memory, lives in the core package; agents and the orchestrator depend
// only on it and a backend is selected at wiring time:
//
//   - InMemory: process-local slice, optional capacity
//   - SQLStore: database/sql with SQLite (modernc.org/sqlite) or MySQL
//   - RedisStore: one Redis list per session
//
// SaveJSON and LoadJSON write and read JSON snapshots of any history.
package memory
