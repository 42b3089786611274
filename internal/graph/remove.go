package graph

import (
	"log/slog"
	"strings"
)

// RemoveFile deletes every symbol owned by file from all indices, every edge
// touching those symbols in either direction, and every deferred reference
// whose source was in the file. Edges from other files into the removed
// symbols become deferred references again unless WithRedeferOnRemove(false)
// was given. Returns the number of symbols removed.
func (g *Graph) RemoveFile(file string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := g.byFile[file]
	if len(ids) == 0 {
		return 0
	}
	removed := make(map[SymbolID]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}

	var redefer []Reference
	for _, id := range ids {
		for _, r := range g.forward[id] {
			delete(g.edgeKeys, keyOf(r))
			if !removed[r.TargetID] {
				g.backward[r.TargetID] = dropRefs(g.backward[r.TargetID], removed)
				if len(g.backward[r.TargetID]) == 0 {
					delete(g.backward, r.TargetID)
				}
			}
		}
		for _, r := range g.backward[id] {
			if removed[r.SourceID] {
				continue
			}
			delete(g.edgeKeys, keyOf(r))
			g.forward[r.SourceID] = dropTargets(g.forward[r.SourceID], removed)
			if len(g.forward[r.SourceID]) == 0 {
				delete(g.forward, r.SourceID)
			}
			if g.redefer {
				ref := *r
				if ref.TargetName == "" {
					ref.TargetName = g.symbols[id].Name
				}
				ref.TargetID = ""
				redefer = append(redefer, ref)
			}
		}
		delete(g.forward, id)
		delete(g.backward, id)
	}

	g.dropDeferredFromLocked(removed)

	for _, id := range ids {
		s := g.symbols[id]
		delete(g.symbols, id)
		delete(g.byKey, s.Key())
		name := strings.ToLower(s.Name)
		g.byName[name] = dropIDs(g.byName[name], removed)
		if len(g.byName[name]) == 0 {
			delete(g.byName, name)
		}
		g.byFQN[s.FQN] = dropIDs(g.byFQN[s.FQN], removed)
		if len(g.byFQN[s.FQN]) == 0 {
			delete(g.byFQN, s.FQN)
		}
		if s.ParentID != "" && !removed[s.ParentID] {
			g.children[s.ParentID] = dropIDs(g.children[s.ParentID], removed)
			if len(g.children[s.ParentID]) == 0 {
				delete(g.children, s.ParentID)
			}
		}
		delete(g.children, id)
	}
	delete(g.byFile, file)

	for _, ref := range redefer {
		g.deferLocked(ref)
	}

	g.logger.Debug("remove file",
		slog.String("file", file),
		slog.Int("symbols", len(ids)),
		slog.Int("redeferred", len(redefer)))
	return len(ids)
}

func (g *Graph) dropDeferredFromLocked(removed map[SymbolID]bool) {
	for name, bucket := range g.deferred {
		var keep []*DeferredReference
		for _, d := range bucket {
			if removed[d.Ref.SourceID] {
				g.forgetDeferredLocked(d)
				continue
			}
			keep = append(keep, d)
		}
		g.setDeferredLocked(name, keep)
	}
}

func dropIDs(ids []SymbolID, removed map[SymbolID]bool) []SymbolID {
	out := ids[:0]
	for _, id := range ids {
		if !removed[id] {
			out = append(out, id)
		}
	}
	return out
}

func dropRefs(refs []*Reference, removedSources map[SymbolID]bool) []*Reference {
	out := refs[:0]
	for _, r := range refs {
		if !removedSources[r.SourceID] {
			out = append(out, r)
		}
	}
	return out
}

func dropTargets(refs []*Reference, removedTargets map[SymbolID]bool) []*Reference {
	out := refs[:0]
	for _, r := range refs {
		if !removedTargets[r.TargetID] {
			out = append(out, r)
		}
	}
	return out
}
