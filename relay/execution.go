package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var (
	_ context.Context = &Execution{}
	_ Host            = &Execution{}
)

// Host is the narrow view of the automation engine a node executor needs:
// the ordered input items, per-item parameter resolution, and the
// continue-on-failure flag.
type Host interface {
	InputItems() []map[string]any
	Parameter(name string, itemIndex int) (any, error)
	ContinueOnFail() bool
}

// Execution is the runtime context for one relay invocation. It implements
// context.Context so it can be handed directly to bus clients and slog.
type Execution struct {
	ID   string
	Node *Node

	items          []map[string]any
	continueOnFail bool
	ctx            context.Context // real context carrying deadline/cancellation
}

func NewExecution(node *Node, items []map[string]any, continueOnFail bool) *Execution {
	return &Execution{
		ID:             uuid.New().String(),
		Node:           node,
		items:          items,
		continueOnFail: continueOnFail,
		ctx:            context.Background(),
	}
}

// WithContext returns a shallow copy of the Execution with a new embedded
// context. Mirrors the http.Request.WithContext pattern.
func (e *Execution) WithContext(ctx context.Context) *Execution {
	copy := *e
	copy.ctx = ctx
	return &copy
}

func (e *Execution) InputItems() []map[string]any {
	return e.items
}

func (e *Execution) ContinueOnFail() bool {
	return e.continueOnFail
}

// Parameter resolves one node parameter for one input item. String values of
// the form "${ expr }" are evaluated with item, index, items, and properties
// in scope; everything else passes through as a literal. A missing parameter
// resolves to nil.
func (e *Execution) Parameter(name string, itemIndex int) (any, error) {
	raw, ok := e.Node.Parameters[name]
	if !ok {
		return nil, nil
	}
	return resolveValue(raw, e.itemEnv(itemIndex))
}

// ResolvedParameters resolves every node parameter against the first input
// item. The result feeds PrepareConfig; the send path re-resolves messageBody
// per item.
func (e *Execution) ResolvedParameters() (map[string]any, error) {
	resolved := make(map[string]any, len(e.Node.Parameters))
	for name := range e.Node.Parameters {
		v, err := e.Parameter(name, 0)
		if err != nil {
			return nil, err
		}
		resolved[name] = v
	}
	return resolved, nil
}

func (e *Execution) itemEnv(itemIndex int) map[string]any {
	env := map[string]any{
		"items":      e.items,
		"index":      itemIndex,
		"properties": e.Node.Properties,
	}
	if itemIndex >= 0 && itemIndex < len(e.items) {
		env["item"] = e.items[itemIndex]
	}
	return env
}

// context.Context implementation delegates to the embedded ctx so deadlines
// and cancellation propagate through bus and slog calls.

func (e *Execution) Deadline() (deadline time.Time, ok bool) {
	return e.ctx.Deadline()
}

func (e *Execution) Done() <-chan struct{} {
	return e.ctx.Done()
}

func (e *Execution) Err() error {
	return e.ctx.Err()
}

func (e *Execution) Value(key any) any {
	return e.ctx.Value(key)
}
