// Package champion retrieves historical question → tool-execution-trace
// records used as few-shot bias during strategic planning. The store is
// read-only for the engine; retrieval is side-effect-free and idempotent.
package champion

import "encoding/json"

// Case is one stored champion case. Immutable once loaded.
type Case struct {
	ID         string          `json:"id"`
	Question   string          `json:"question"`
	Trace      json.RawMessage `json:"trace"` // tool execution trace of the successful run
	Similarity float64         `json:"similarity"`
}
