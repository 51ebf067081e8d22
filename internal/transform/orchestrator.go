package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/datafold/datafold/internal/bus"
	"github.com/datafold/datafold/internal/dflog"
	"github.com/datafold/datafold/internal/kv"
)

// QueueReason tags why a transform id was enqueued.
type QueueReason string

const (
	ReasonManual     QueueReason = "manual"
	ReasonDependency QueueReason = "dependency"
)

// QueuedTransform is one FIFO entry, persisted under a zero-padded
// monotonic sequence key so bbolt's lexicographic cursor order is FIFO
// order (spec.md §4.7 "Orchestrator queue").
type QueuedTransform struct {
	Seq         uint64
	TransformID string
	Reason      QueueReason
	EnqueuedAt  time.Time
}

// Lookup resolves a transform id to its logic and output coordinate. The
// orchestrator depends on this function rather than importing
// internal/schema directly, keeping schema -> transform the only edge
// between the two packages.
type Lookup func(transformID string) (logic string, outputSchema string, outputField string, err error)

// FieldResolver resolves a "schema.field" dependency to its latest value.
type FieldResolver func(schema, field string) (Value, error)

// ResultWriter persists a transform's computed output, implemented by the
// node facade as CreateAtom + UpdateAtomRef(Single) against internal/atom.
type ResultWriter func(schema, field string, content []byte) error

// Orchestrator is the persistent FIFO of spec.md §4.7. It subscribes to
// AtomRefUpdated and auto-enqueues every transform whose declared
// dependency graph includes the updated field.
type Orchestrator struct {
	tree  kv.Tree
	graph *DependencyGraph
	bus   *bus.Bus

	lookup   Lookup
	resolve  FieldResolver
	write    ResultWriter

	mu       sync.Mutex
	seq      uint64
	queued   map[string]struct{} // transform id -> present, mirrors the persisted queue
	outputMu sync.Mutex
	outputLk map[string]*sync.Mutex // per-output-coordinate mutex, guarded by outputMu

	consumer *bus.Consumer[bus.AtomRefUpdated]
}

// NewOrchestrator opens the transform_state tree, mirrors any persisted
// queue entries into memory, and subscribes to AtomRefUpdated.
func NewOrchestrator(store kv.Store, graph *DependencyGraph, b *bus.Bus, lookup Lookup, resolve FieldResolver, write ResultWriter) (*Orchestrator, error) {
	tree, err := store.Tree("transform_state")
	if err != nil {
		return nil, fmt.Errorf("transform: failed to open transform_state tree: %w", err)
	}

	o := &Orchestrator{
		tree:     tree,
		graph:    graph,
		bus:      b,
		lookup:   lookup,
		resolve:  resolve,
		write:    write,
		queued:   make(map[string]struct{}),
		outputLk: make(map[string]*sync.Mutex),
	}

	if err := o.restoreQueue(); err != nil {
		return nil, err
	}

	if b != nil {
		o.consumer = bus.Subscribe[bus.AtomRefUpdated](b)
		go o.watchAtomRefUpdates()
	}

	return o, nil
}

func (o *Orchestrator) restoreQueue() error {
	entries, err := o.tree.ScanPrefix(nil)
	if err != nil {
		return fmt.Errorf("transform: failed to scan transform_state tree: %w", err)
	}
	var maxSeq uint64
	for _, e := range entries {
		var qt QueuedTransform
		if err := json.Unmarshal(e.Value, &qt); err != nil {
			continue // a corrupt queue entry is skipped, not fatal to startup
		}
		o.queued[qt.TransformID] = struct{}{}
		if qt.Seq > maxSeq {
			maxSeq = qt.Seq
		}
	}
	o.seq = maxSeq
	return nil
}

func (o *Orchestrator) watchAtomRefUpdates() {
	for evt := range o.consumer.Events() {
		updated := NewCoordinate(evt.Schema, evt.Field)
		for _, dependent := range o.graph.Dependents(updated) {
			if err := o.Add(string(dependent), ReasonDependency); err != nil {
				dflog.Errorf("transform: failed to auto-enqueue dependent transform", err)
			}
		}
	}
}

func splitCoordinate(c Coordinate) (schema, field string) {
	s := string(c)
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// Add enqueues transformID with reason, deduplicating against the current
// queue (spec.md §4.7 "Triggering").
func (o *Orchestrator) Add(transformID string, reason QueueReason) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, already := o.queued[transformID]; already {
		return nil
	}

	o.seq++
	qt := QueuedTransform{Seq: o.seq, TransformID: transformID, Reason: reason, EnqueuedAt: time.Now().UTC()}
	data, err := json.Marshal(qt)
	if err != nil {
		return fmt.Errorf("transform: failed to marshal queue entry: %w", err)
	}
	if err := o.tree.Put(seqKey(qt.Seq), data); err != nil {
		return fmt.Errorf("transform: failed to persist queue entry: %w", err)
	}
	o.queued[transformID] = struct{}{}
	return nil
}

// Len reports the number of queued transforms.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queued)
}

// IsEmpty reports whether the queue is empty.
func (o *Orchestrator) IsEmpty() bool { return o.Len() == 0 }

// ListQueued returns every queued entry in FIFO order.
func (o *Orchestrator) ListQueued() ([]QueuedTransform, error) {
	entries, err := o.tree.ScanPrefix(nil)
	if err != nil {
		return nil, fmt.Errorf("transform: failed to scan transform_state tree: %w", err)
	}
	out := make([]QueuedTransform, 0, len(entries))
	for _, e := range entries {
		var qt QueuedTransform
		if err := json.Unmarshal(e.Value, &qt); err != nil {
			continue
		}
		out = append(out, qt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ExecutionResult reports one ProcessOne outcome.
type ExecutionResult struct {
	TransformID string
	Result      string // "success" | "failed"
	Reason      string
}

// ProcessOne dequeues the oldest entry and executes it, publishing
// TransformExecuted regardless of outcome. Returns (nil, nil) when the
// queue is empty.
func (o *Orchestrator) ProcessOne() (*ExecutionResult, error) {
	qt, ok, err := o.dequeueOldest()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	result := o.execute(qt.TransformID)

	if o.bus != nil {
		bus.Publish(o.bus, bus.TransformExecuted{
			TransformID: result.TransformID,
			Result:      result.Result,
			Reason:      result.Reason,
		})
	}
	return &result, nil
}

// ProcessAll drains the queue, processing entries in FIFO order until
// empty.
func (o *Orchestrator) ProcessAll() ([]ExecutionResult, error) {
	var results []ExecutionResult
	for {
		r, err := o.ProcessOne()
		if err != nil {
			return results, err
		}
		if r == nil {
			return results, nil
		}
		results = append(results, *r)
	}
}

func (o *Orchestrator) dequeueOldest() (QueuedTransform, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.tree.ScanPrefix(nil)
	if err != nil {
		return QueuedTransform{}, false, fmt.Errorf("transform: failed to scan transform_state tree: %w", err)
	}
	if len(entries) == 0 {
		return QueuedTransform{}, false, nil
	}

	var oldestKey []byte
	var oldest QueuedTransform
	found := false
	for _, e := range entries {
		var qt QueuedTransform
		if err := json.Unmarshal(e.Value, &qt); err != nil {
			continue
		}
		if !found || qt.Seq < oldest.Seq {
			oldest = qt
			oldestKey = e.Key
			found = true
		}
	}
	if !found {
		return QueuedTransform{}, false, nil
	}

	if err := o.tree.Delete(oldestKey); err != nil {
		return QueuedTransform{}, false, fmt.Errorf("transform: failed to remove dequeued entry: %w", err)
	}
	delete(o.queued, oldest.TransformID)
	return oldest, true, nil
}

func (o *Orchestrator) outputLock(coord string) *sync.Mutex {
	o.outputMu.Lock()
	defer o.outputMu.Unlock()
	lk, ok := o.outputLk[coord]
	if !ok {
		lk = &sync.Mutex{}
		o.outputLk[coord] = lk
	}
	return lk
}

func (o *Orchestrator) execute(transformID string) ExecutionResult {
	logic, outputSchema, outputField, err := o.lookup(transformID)
	if err != nil {
		return ExecutionResult{TransformID: transformID, Result: "failed", Reason: err.Error()}
	}

	outputCoord := NewCoordinate(outputSchema, outputField)
	lock := o.outputLock(string(outputCoord))
	lock.Lock()
	defer lock.Unlock()

	deps, err := ExtractDependencies(logic)
	if err != nil {
		return ExecutionResult{TransformID: transformID, Result: "failed", Reason: err.Error()}
	}

	env := make(map[string]Value, len(deps))
	for _, dep := range deps {
		schema, field := splitCoordinate(dep)
		v, err := o.resolve(schema, field)
		if err != nil {
			return ExecutionResult{TransformID: transformID, Result: "failed", Reason: fmt.Sprintf("dependency %s unresolved: %v", dep, err)}
		}
		env[schema+"."+field] = v
	}

	result, err := Evaluate(logic, env)
	if err != nil {
		return ExecutionResult{TransformID: transformID, Result: "failed", Reason: err.Error()}
	}

	content, err := valueToJSON(result)
	if err != nil {
		return ExecutionResult{TransformID: transformID, Result: "failed", Reason: err.Error()}
	}

	if err := o.write(outputSchema, outputField, content); err != nil {
		return ExecutionResult{TransformID: transformID, Result: "failed", Reason: err.Error()}
	}

	return ExecutionResult{TransformID: transformID, Result: "success"}
}

// valueToJSON encodes v the same way a direct mutation's raw bytes would
// read back through decodeValue: plain decimal for numbers, bare "true"/
// "false" for bools, unquoted text for strings. A computed transform output
// and a directly written field must be indistinguishable on the read path.
func valueToJSON(v Value) ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return []byte(strconv.FormatFloat(v.Num, 'g', -1, 64)), nil
	case KindString:
		return []byte(v.Str), nil
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return nil, fmt.Errorf("transform: cannot serialize value of unknown kind")
	}
}
