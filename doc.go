// Package loom provides the runtime contracts shared by all loom packages:
// the Model interface and its embeddable Entity implementation, the error
// taxonomy, and the query result cache contract.
//
// Models are plain structs that embed loom.Entity and are described at
// runtime by the schema package. Relations between models are loaded and
// persisted through the relation package, which binds query results back to
// the object that loaded them. The recurse package guards recursive model
// traversals against cycles.
package loom
