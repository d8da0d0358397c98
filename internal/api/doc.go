// Package api defines the shared data model of the execution core: tool
// descriptors and call results, execution records, and the structured error
// taxonomy used across the engine, registry, invoker, and sandbox.
//
// Keeping these types in one leaf package lets the core packages depend on
// each other only through data, never through implementations.
package api
