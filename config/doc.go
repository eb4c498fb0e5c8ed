// Package config loads the runtime configuration and agent definitions.
//
// The runtime configuration is a TOML file (exodus.toml by default) with
// [agent], [llm], [docker], [executor], [memory] and [logging] tables.
// Agents are described one per file in a directory, either as TOML with an
// [agent] table or as YAML with an agent key. The package only produces
// validated values; it never starts anything.
package config
