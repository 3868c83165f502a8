// Package env holds the shared interpreter state: tensor bindings, interned
// labels, and relational facts. The environment is owned by the VM and passed
// by reference to every component.
package env

import (
	"fmt"
	"sort"
	"strings"

	"github.com/itohio/tensorlang/pkg/ast"
	"github.com/itohio/tensorlang/pkg/backend"
)

// relation is an ordered tuple list with a companion set for deduplication.
type relation struct {
	tuples [][]string
	seen   map[string]struct{}
}

// Environment maps tensor names to values, labels to dense integers, and
// relation names to tuple sets. Labels are append-only; relations are
// append-only during a program.
type Environment struct {
	tensors   map[string]*backend.Tensor
	labels    map[string]int
	relations map[string]*relation
	relOrder  []string
}

// New creates an empty environment.
func New() *Environment {
	return &Environment{
		tensors:   map[string]*backend.Tensor{},
		labels:    map[string]int{},
		relations: map[string]*relation{},
	}
}

// Key returns the environment key of a tensor reference: the bare name,
// never the indices.
func Key(ref ast.TensorRef) string { return ref.Name.Name }

// Bind replaces the binding for name atomically.
func (e *Environment) Bind(name string, t *backend.Tensor) {
	e.tensors[name] = t
}

// BindRef binds via a tensor reference's key.
func (e *Environment) BindRef(ref ast.TensorRef, t *backend.Tensor) {
	e.Bind(Key(ref), t)
}

// Has reports whether name is bound.
func (e *Environment) Has(name string) bool {
	_, ok := e.tensors[name]
	return ok
}

// HasRef reports whether a reference's key is bound.
func (e *Environment) HasRef(ref ast.TensorRef) bool { return e.Has(Key(ref)) }

// Lookup returns the tensor bound to name.
func (e *Environment) Lookup(name string) (*backend.Tensor, error) {
	t, ok := e.tensors[name]
	if !ok {
		return nil, fmt.Errorf("environment: tensor not found: %s", name)
	}
	return t, nil
}

// LookupRef looks up via a tensor reference's key.
func (e *Environment) LookupRef(ref ast.TensorRef) (*backend.Tensor, error) {
	return e.Lookup(Key(ref))
}

// Unbind removes a binding if present.
func (e *Environment) Unbind(name string) {
	delete(e.tensors, name)
}

// TensorNames returns the bound names in sorted order.
func (e *Environment) TensorNames() []string {
	names := make([]string, 0, len(e.tensors))
	for n := range e.tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InternLabel returns the dense integer for a label, assigning the next one
// in insertion order on first use.
func (e *Environment) InternLabel(label string) int {
	if idx, ok := e.labels[label]; ok {
		return idx
	}
	idx := len(e.labels)
	e.labels[label] = idx
	return idx
}

// LabelIndex returns the index of a previously interned label.
func (e *Environment) LabelIndex(label string) (int, bool) {
	idx, ok := e.labels[label]
	return idx, ok
}

// Labels returns the interned labels in assignment order.
func (e *Environment) Labels() []string {
	out := make([]string, len(e.labels))
	for s, i := range e.labels {
		out[i] = s
	}
	return out
}

// tupleKey serializes a tuple with a unit separator for the dedup set.
func tupleKey(tuple []string) string {
	return strings.Join(tuple, "\x1f")
}

// AddFact appends a tuple to a relation, deduplicating. Returns whether the
// tuple was new.
func (e *Environment) AddFact(rel string, tuple []string) bool {
	r, ok := e.relations[rel]
	if !ok {
		r = &relation{seen: map[string]struct{}{}}
		e.relations[rel] = r
		e.relOrder = append(e.relOrder, rel)
	}
	key := tupleKey(tuple)
	if _, dup := r.seen[key]; dup {
		return false
	}
	r.seen[key] = struct{}{}
	r.tuples = append(r.tuples, tuple)
	return true
}

// HasRelation reports whether any tuple exists for the relation.
func (e *Environment) HasRelation(rel string) bool {
	_, ok := e.relations[rel]
	return ok
}

// Facts returns the relation's tuples in first-seen order. The returned slice
// is shared; callers must not mutate it.
func (e *Environment) Facts(rel string) [][]string {
	if r, ok := e.relations[rel]; ok {
		return r.tuples
	}
	return nil
}

// RelationNames returns relation names in first-seen order.
func (e *Environment) RelationNames() []string {
	return e.relOrder
}
