package agent

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"taskdeck/types"
)

// TaskOrdinalContext remembers which task occupied which position the
// last time a list was shown, so a follow-up like "mark the first one
// done" can be mapped back to a task ID. Keys are 1-based position
// strings; the ordered map keeps them in presentation order.
type TaskOrdinalContext struct {
	Positions *orderedmap.OrderedMap[string, int64] `json:"positions"`
	Timestamp time.Time                             `json:"timestamp"`
}

// ordinalWords is the fixed ordinal-word table. Anything beyond "tenth"
// must be said numerically.
var ordinalWords = map[string]string{
	"first":   "1",
	"second":  "2",
	"third":   "3",
	"fourth":  "4",
	"fifth":   "5",
	"sixth":   "6",
	"seventh": "7",
	"eighth":  "8",
	"ninth":   "9",
	"tenth":   "10",
}

// StoreTaskListContext snapshots a presented task list into an ordinal
// context stamped with the current time.
func StoreTaskListContext(tasks []types.Task) *TaskOrdinalContext {
	positions := orderedmap.New[string, int64]()
	for i, task := range tasks {
		positions.Set(strconv.Itoa(i+1), task.ID)
	}
	return &TaskOrdinalContext{Positions: positions, Timestamp: time.Now()}
}

// RetrieveTaskContext extracts the ordinal context from message metadata
// if present and younger than ttl. Expired, missing, or malformed
// contexts are all absence, never errors.
func RetrieveTaskContext(metadata json.RawMessage, ttl time.Duration) *TaskOrdinalContext {
	if len(metadata) == 0 {
		return nil
	}
	var meta messageMetadata
	if err := json.Unmarshal(metadata, &meta); err != nil {
		return nil
	}
	ctx := meta.TaskContext
	if ctx == nil || ctx.Positions == nil || ctx.Timestamp.IsZero() {
		return nil
	}
	if time.Since(ctx.Timestamp) > ttl {
		return nil
	}
	return ctx
}

// ResolveOrdinalReference maps a user reference ("first", "2", "last")
// to a task ID through the stored context. Every unresolved case is
// (0, false); the caller asks the user to clarify instead of failing.
func ResolveOrdinalReference(reference string, ctx *TaskOrdinalContext) (int64, bool) {
	if ctx == nil || ctx.Positions == nil {
		return 0, false
	}

	ref := strings.ToLower(strings.TrimSpace(reference))

	if ref == "last" {
		max := 0
		for pair := ctx.Positions.Oldest(); pair != nil; pair = pair.Next() {
			if n, err := strconv.Atoi(pair.Key); err == nil && n > max {
				max = n
			}
		}
		if max == 0 {
			return 0, false
		}
		id, ok := ctx.Positions.Get(strconv.Itoa(max))
		return id, ok
	}

	if position, ok := ordinalWords[ref]; ok {
		ref = position
	}

	id, ok := ctx.Positions.Get(ref)
	return id, ok
}
