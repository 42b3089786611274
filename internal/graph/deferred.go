package graph

import (
	"log/slog"
	"strings"
	"time"

	"github.com/jward/grove/internal/symbols"
)

// State is the lifecycle stage of a deferred reference.
//
//	Pending -> Retrying(attempt, delay) -> Resolved | Expired
//
// Resolved and Expired items leave the deferred set immediately.
type State int

const (
	Pending State = iota
	Retrying
	Resolved
	Expired
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Retrying:
		return "retrying"
	case Resolved:
		return "resolved"
	}
	return "expired"
}

// DeferredReference is a reference whose target had no matching symbol when
// it was recorded.
type DeferredReference struct {
	Ref         Reference
	State       State
	Attempts    int
	Delay       time.Duration // backoff before NextAttempt
	NextAttempt time.Time
	Created     time.Time
}

// maxBackoffShift caps exponential backoff at retryDelay * 2^16.
const maxBackoffShift = 16

type deferredKey struct {
	source symbols.SymbolID
	name   string
	typ    symbols.ReferenceType
	loc    symbols.Range
}

func deferredKeyOf(ref *Reference) deferredKey {
	return deferredKey{source: ref.SourceID, name: ref.NormalizedTargetName(), typ: ref.Type, loc: ref.Location}
}

func (g *Graph) deferLocked(ref Reference) Outcome {
	key := deferredKeyOf(&ref)
	if _, dup := g.deferredKeys[key]; dup {
		return Duplicate
	}
	now := g.now()
	d := &DeferredReference{
		Ref:         ref,
		State:       Pending,
		Delay:       g.retryDelay,
		NextAttempt: now.Add(g.retryDelay),
		Created:     now,
	}
	name := key.name
	g.deferred[name] = append(g.deferred[name], d)
	g.deferredKeys[key] = struct{}{}
	g.deferredCount++
	g.logger.Debug("defer reference",
		slog.String("source", string(ref.SourceID)),
		slog.String("target", ref.TargetName),
		slog.String("type", string(ref.Type)))
	return Deferred
}

// replayDeferredLocked tries every deferred reference waiting for the name of
// the newly added symbol s. Only a symbol of a kind the reference can target
// counts as a failed attempt; any other symbol leaves the item untouched.
func (g *Graph) replayDeferredLocked(s *Symbol) {
	name := strings.ToLower(s.Name)
	waiting := g.deferred[name]
	if len(waiting) == 0 {
		return
	}
	now := g.now()
	var keep []*DeferredReference
	for _, d := range waiting {
		if g.tryResolveLocked(d, []*Symbol{s}) {
			continue
		}
		if !d.Ref.Type.Accepts(s.Kind) || g.failAttemptLocked(d, now) {
			keep = append(keep, d)
		}
	}
	g.setDeferredLocked(name, keep)
}

// TickResult summarizes one scheduler tick.
type TickResult struct {
	Resolved int
	Expired  int
	Waiting  int
}

// Tick advances every deferred reference whose next attempt is due: each is
// resolved against the symbols currently known under its target name, or
// moved to Retrying with a doubled delay, or expired once it has used up the
// retry budget.
func (g *Graph) Tick(now time.Time) TickResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	var res TickResult
	for name, waiting := range g.deferred {
		candidates := g.collectLocked(g.byName[name])
		var keep []*DeferredReference
		for _, d := range waiting {
			if now.Before(d.NextAttempt) {
				keep = append(keep, d)
				continue
			}
			if g.tryResolveLocked(d, candidates) {
				res.Resolved++
				continue
			}
			if g.failAttemptLocked(d, now) {
				keep = append(keep, d)
			} else {
				res.Expired++
			}
		}
		g.setDeferredLocked(name, keep)
	}
	res.Waiting = g.deferredCount
	return res
}

// tryResolveLocked records d as an edge to the first suitable candidate. On
// success d is marked Resolved and removed from the key set; the caller drops
// it from its bucket.
func (g *Graph) tryResolveLocked(d *DeferredReference, candidates []*Symbol) bool {
	source, ok := g.symbols[d.Ref.SourceID]
	if !ok {
		return false
	}
	var target *Symbol
	for _, c := range candidates {
		if !d.Ref.Type.Accepts(c.Kind) {
			continue
		}
		if c.FilePath == source.FilePath {
			target = c
			break
		}
		if target == nil && c.IsVisibleFrom(source.FilePath) {
			target = c
		}
	}
	if target == nil {
		return false
	}
	ref := d.Ref
	ref.TargetID = target.ID
	g.recordEdgeLocked(ref)
	d.State = Resolved
	g.forgetDeferredLocked(d)
	return true
}

// failAttemptLocked counts a failed attempt. It returns false when the
// reference has expired and must be dropped.
func (g *Graph) failAttemptLocked(d *DeferredReference, now time.Time) bool {
	d.Attempts++
	if d.Attempts > g.retryBudget {
		d.State = Expired
		g.forgetDeferredLocked(d)
		g.logger.Debug("expire deferred reference",
			slog.String("source", string(d.Ref.SourceID)),
			slog.String("target", d.Ref.TargetName),
			slog.Int("attempts", d.Attempts))
		return false
	}
	d.State = Retrying
	d.Delay = g.retryDelay << min(d.Attempts-1, maxBackoffShift)
	d.NextAttempt = now.Add(d.Delay)
	return true
}

func (g *Graph) forgetDeferredLocked(d *DeferredReference) {
	delete(g.deferredKeys, deferredKeyOf(&d.Ref))
	g.deferredCount--
}

func (g *Graph) setDeferredLocked(name string, keep []*DeferredReference) {
	if len(keep) == 0 {
		delete(g.deferred, name)
		return
	}
	g.deferred[name] = keep
}

// DeferredReferences returns a snapshot of every waiting deferred reference.
func (g *Graph) DeferredReferences() []DeferredReference {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]DeferredReference, 0, g.deferredCount)
	for _, bucket := range g.deferred {
		for _, d := range bucket {
			out = append(out, *d)
		}
	}
	return out
}
