// Package filter implements the per-connection filter pipeline applied to
// backend-sourced payloads before delivery. A pipeline holds named entries
// that are predicates, transforms, or both: every entry is invoked with the
// decoded document and the pipeline verdict is the logical AND of all boolean
// returns. Entries may mutate the document in place as a side effect.
package filter

import (
	"encoding/json"

	"github.com/c360/georelay/errors"
)

// Func is a single filter entry. It receives the decoded document and returns
// whether the document should be delivered. Pure transforms return true
// unconditionally.
type Func func(doc any) bool

// Pipeline is an ordered set of named filter entries. Entries are keyed by
// fixed names so re-issuing the owning command idempotently replaces or
// removes the corresponding entry; replacing an entry keeps its position.
//
// A Pipeline is owned by a single connection and is only touched by that
// connection's processor goroutine, so it carries no locking.
type Pipeline struct {
	names []string
	funcs map[string]Func
}

// NewPipeline creates an empty pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		funcs: make(map[string]Func),
	}
}

// Set installs or replaces the entry with the given name
func (p *Pipeline) Set(name string, fn Func) {
	if _, exists := p.funcs[name]; !exists {
		p.names = append(p.names, name)
	}
	p.funcs[name] = fn
}

// Remove deletes the entry with the given name, reporting whether it existed
func (p *Pipeline) Remove(name string) bool {
	if _, exists := p.funcs[name]; !exists {
		return false
	}
	delete(p.funcs, name)
	for i, n := range p.names {
		if n == name {
			p.names = append(p.names[:i], p.names[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether an entry with the given name is installed
func (p *Pipeline) Has(name string) bool {
	_, exists := p.funcs[name]
	return exists
}

// Len returns the number of installed entries
func (p *Pipeline) Len() int {
	return len(p.funcs)
}

// Apply decodes raw into a document and runs every entry not listed in
// exclude. A nil raw value short-circuits to (false, nil, nil). A decode
// failure is an internal error: backend data is a trusted source, so a
// malformed payload is an operator-facing signal, not a client mistake.
//
// All entries are evaluated, even after one has returned false, so that
// transforming entries always see the document regardless of insertion order.
func (p *Pipeline) Apply(raw []byte, exclude ...string) (bool, any, error) {
	if raw == nil {
		return false, nil, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, nil, errors.WrapInternal(err, "Pipeline", "Apply", "decode document")
	}

	passed := true
	for _, name := range p.names {
		if excluded(name, exclude) {
			continue
		}
		if !p.funcs[name](doc) {
			passed = false
		}
	}
	return passed, doc, nil
}

func excluded(name string, exclude []string) bool {
	for _, e := range exclude {
		if e == name {
			return true
		}
	}
	return false
}
