// Package workflowctx implements the workflow context: a per-run scoped
// store of scalars, arrays, and counters with checkpoint/rollback and a JSON
// round-trip, owned exclusively by one workflow execution.
package workflowctx

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/githubnext/gh-aw-core/internal/errs"
)

// Context is created fresh by the contextual executor at workflow start and
// cleared at workflow end; it is never shared across runs.
type Context struct {
	WorkflowID   string
	WorkflowName string
	StartedAt    time.Time

	data        map[string]any
	arrays      map[string][]any
	counters    map[string]int64
	checkpoints map[string]snapshot
}

type snapshot struct {
	data     map[string]any
	arrays   map[string][]any
	counters map[string]int64
}

// New constructs an empty Context for one workflow run.
func New(workflowID, workflowName string) *Context {
	return &Context{
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		StartedAt:    time.Now(),
		data:         map[string]any{},
		arrays:       map[string][]any{},
		counters:     map[string]int64{},
		checkpoints:  map[string]snapshot{},
	}
}

// Set stores a scalar/object value under key.
func (c *Context) Set(key string, value any) {
	c.data[key] = value
}

// Get returns the value under key and whether it was present.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Has reports whether key has a scalar value set.
func (c *Context) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Delete removes key's scalar value, if any.
func (c *Context) Delete(key string) {
	delete(c.data, key)
}

// Keys returns every scalar key currently set.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

// Append adds value to the end of the named array, preserving insertion
// order with no implicit deduplication.
func (c *Context) Append(key string, value any) {
	c.arrays[key] = append(c.arrays[key], value)
}

// GetAll returns the named array's current contents.
func (c *Context) GetAll(key string) []any {
	return c.arrays[key]
}

// ClearArray empties the named array.
func (c *Context) ClearArray(key string) {
	delete(c.arrays, key)
}

// Increment adds delta to the named counter, returning its new value.
func (c *Context) Increment(key string, delta int64) int64 {
	c.counters[key] += delta
	return c.counters[key]
}

// Decrement subtracts delta from the named counter, returning its new value.
func (c *Context) Decrement(key string, delta int64) int64 {
	c.counters[key] -= delta
	return c.counters[key]
}

// GetCounter returns the named counter's current value (zero if unset).
func (c *Context) GetCounter(key string) int64 {
	return c.counters[key]
}

// ResetCounter sets the named counter back to zero.
func (c *Context) ResetCounter(key string) {
	c.counters[key] = 0
}

// Merge shallow-merges fields into the object stored at key. If key already
// holds a non-object value, Merge fails: merging onto a scalar is ambiguous.
func (c *Context) Merge(key string, fields map[string]any) error {
	existing, ok := c.data[key]
	if !ok {
		c.data[key] = cloneMap(fields)
		return nil
	}
	obj, ok := existing.(map[string]any)
	if !ok {
		return errs.New(errs.KindValidation, fmt.Sprintf("cannot merge onto non-object value at key %q", key))
	}
	for k, v := range fields {
		obj[k] = v
	}
	return nil
}

// Checkpoint captures a deep copy of data, arrays, and counters under name.
// Checkpoints never capture other checkpoints.
func (c *Context) Checkpoint(name string) {
	c.checkpoints[name] = snapshot{
		data:     cloneMap(c.data),
		arrays:   cloneArrays(c.arrays),
		counters: cloneCounters(c.counters),
	}
}

// Rollback restores data, arrays, and counters to the contents captured by
// Checkpoint(name), discarding all intervening changes. Rolling back an
// unknown name returns false without mutating state.
func (c *Context) Rollback(name string) bool {
	snap, ok := c.checkpoints[name]
	if !ok {
		return false
	}
	c.data = cloneMap(snap.data)
	c.arrays = cloneArrays(snap.arrays)
	c.counters = cloneCounters(snap.counters)
	return true
}

// DeleteCheckpoint discards a named checkpoint.
func (c *Context) DeleteCheckpoint(name string) {
	delete(c.checkpoints, name)
}

// exported is the portable JSON shape; checkpoints are deliberately
// excluded — the round-trip exists for template seeding and debugging, not
// live cross-run persistence.
type exported struct {
	WorkflowID   string           `json:"workflow_id"`
	WorkflowName string           `json:"workflow_name"`
	StartedAt    time.Time        `json:"started_at"`
	Data         map[string]any   `json:"data"`
	Arrays       map[string][]any `json:"arrays"`
	Counters     map[string]int64 `json:"counters"`
}

// Export renders the context (excluding checkpoints) as portable JSON.
func (c *Context) Export() ([]byte, error) {
	e := exported{
		WorkflowID:   c.WorkflowID,
		WorkflowName: c.WorkflowName,
		StartedAt:    c.StartedAt,
		Data:         c.data,
		Arrays:       c.arrays,
		Counters:     c.counters,
	}
	return json.Marshal(e)
}

// Import replaces data/arrays/counters from a previously Export()ed JSON
// blob. Checkpoints are left untouched since none are carried in the blob.
func (c *Context) Import(blob []byte) error {
	var e exported
	if err := json.Unmarshal(blob, &e); err != nil {
		return errs.Wrap(errs.KindValidation, "invalid workflow context JSON", err)
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	if e.Arrays == nil {
		e.Arrays = map[string][]any{}
	}
	if e.Counters == nil {
		e.Counters = map[string]int64{}
	}
	c.data = e.Data
	c.arrays = e.Arrays
	c.counters = e.Counters
	return nil
}

// Summary reports the size of each map, for the one-line log entry the
// contextual executor emits on teardown.
type Summary struct {
	DataKeys     int
	ArrayKeys    int
	CounterKeys  int
	CheckpointsN int
}

func (c *Context) Summary() Summary {
	return Summary{
		DataKeys:     len(c.data),
		ArrayKeys:    len(c.arrays),
		CounterKeys:  len(c.counters),
		CheckpointsN: len(c.checkpoints),
	}
}

// Size returns the total number of entries across data, arrays, and counters.
func (c *Context) Size() int {
	return len(c.data) + len(c.arrays) + len(c.counters)
}

// Clear empties every map, including checkpoints. Called unconditionally by
// the contextual executor when the workflow returns or fails.
func (c *Context) Clear() {
	c.data = map[string]any{}
	c.arrays = map[string][]any{}
	c.counters = map[string]int64{}
	c.checkpoints = map[string]snapshot{}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies nested map[string]any and []any values recursively;
// any other value is copied as-is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	default:
		return v
	}
}

func cloneArrays(m map[string][]any) map[string][]any {
	out := make(map[string][]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v).([]any)
	}
	return out
}

func cloneCounters(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
