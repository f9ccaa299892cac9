package engine

import (
	"fmt"

	"github.com/roach88/morph/internal/profile"
)

// FunctionSnapshot is the persisted profile of one function, keyed by name
// and body hash.
type FunctionSnapshot struct {
	Name    string           `json:"name"`
	Hash    string           `json:"hash"`
	Profile profile.Snapshot `json:"profile"`
}

// Snapshot is the persisted state of an engine. Native forms are never
// part of it.
type Snapshot struct {
	Clock     int64              `json:"clock"`
	Functions []FunctionSnapshot `json:"functions"`
}

// Snapshot captures every function profile in declaration order.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{Clock: e.clock.Current(), Functions: make([]FunctionSnapshot, 0, len(e.funcs))}
	for _, name := range e.prog.Order {
		f := e.funcs[name]
		s.Functions = append(s.Functions, FunctionSnapshot{
			Name:    f.Name,
			Hash:    f.Hash,
			Profile: f.Profile().Snapshot(),
		})
	}
	return s
}

// Restore loads persisted profiles. Entries for unknown functions or for a
// body whose hash changed are skipped; those functions keep a cold profile.
// It returns the number of profiles restored.
func (e *Engine) Restore(s Snapshot) (int, error) {
	if e.closed.Load() {
		return 0, NewClosedError()
	}
	restored := 0
	for _, fs := range s.Functions {
		f, ok := e.funcs[fs.Name]
		if !ok {
			e.logger.Info("discarding profile of unknown function", "function", fs.Name)
			continue
		}
		if fs.Hash != f.Hash {
			e.logger.Info("discarding stale profile", "function", fs.Name, "hash", fs.Hash, "current", f.Hash)
			continue
		}
		p, err := profile.Restore(e.th, fs.Profile)
		if err != nil {
			return restored, fmt.Errorf("restore %s: %w", fs.Name, err)
		}
		f.replace(p)
		restored++
	}
	e.clock.Advance(s.Clock)
	return restored, nil
}
