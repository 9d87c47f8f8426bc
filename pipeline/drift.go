package pipeline

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// driftGuard remembers the listing ids seen recently in this run. A page
// made only of remembered ids means the site is serving pages we already
// walked, usually because it stopped honouring the page parameter.
type driftGuard struct {
	seen *lru.Cache[string, struct{}]
}

// newDriftGuard returns a guard over the last window ids. A window of zero
// disables the check.
func newDriftGuard(window int) *driftGuard {
	if window <= 0 {
		return &driftGuard{}
	}
	cache, err := lru.New[string, struct{}](window)
	if err != nil {
		return &driftGuard{}
	}
	return &driftGuard{seen: cache}
}

// observe records ids and reports whether every one of them was already
// known.
func (g *driftGuard) observe(ids []string) bool {
	if g.seen == nil || len(ids) == 0 {
		return false
	}
	stale := true
	for _, id := range ids {
		if !g.seen.Contains(id) {
			stale = false
		}
	}
	for _, id := range ids {
		g.seen.Add(id, struct{}{})
	}
	return stale
}
