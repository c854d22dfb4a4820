// Package memory provides process-local store implementations. They are used
// when no shared backend is configured and in tests; state does not survive
// a restart and is not shared between replicas.
package memory
