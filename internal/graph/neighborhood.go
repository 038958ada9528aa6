package graph

// Strategy selects how far a neighborhood assembly walks from a primary
// hit.
type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyExtended Strategy = "extended"
	StrategyDeep     Strategy = "deep"
)

// maxHops returns how many hops Strategy allows.
func (s Strategy) maxHops() int {
	switch s {
	case StrategyExtended:
		return 1
	case StrategyDeep:
		return 2
	default:
		return 0
	}
}

// perRelationCap bounds how many neighbors of one relationship kind are
// kept per primary hit (shared with pack assembly since the
// context-search neighborhood and the context-pack related-item budget
// share the same caps).
var perRelationCap = map[RelationKind]int{
	RelationCalls:    6,
	RelationUses:     6,
	RelationContains: 4,
	RelationExtends:  3,
	RelationImports:  2,
	RelationTestedBy: 2,
}

const defaultRelationCap = 2

// Related is one neighbor discovered around a primary hit.
type Related struct {
	ChunkID          string
	RelationshipPath []RelationKind
	Distance         int
}

// Neighborhood performs a bounded BFS from rootID out to strategy's hop
// limit, applying per-relationship-kind caps at each hop so a
// high-fan-out node can't dominate the result.
func (a *Assembler) Neighborhood(rootID string, strategy Strategy) []Related {
	maxHops := strategy.maxHops()
	if maxHops == 0 {
		return nil
	}

	type frontierItem struct {
		id   string
		path []RelationKind
		dist int
	}

	visited := map[string]bool{rootID: true}
	kindCounts := make(map[RelationKind]int)
	var out []Related

	frontier := []frontierItem{{id: rootID, dist: 0}}
	for hop := 1; hop <= maxHops; hop++ {
		var next []frontierItem
		for _, cur := range frontier {
			for _, e := range a.OutEdges(cur.id) {
				if visited[e.To] {
					continue
				}
				limit := perRelationCap[e.Kind]
				if limit == 0 {
					limit = defaultRelationCap
				}
				if kindCounts[e.Kind] >= limit {
					continue
				}
				kindCounts[e.Kind]++
				visited[e.To] = true

				path := append(append([]RelationKind(nil), cur.path...), e.Kind)
				item := frontierItem{id: e.To, path: path, dist: hop}
				out = append(out, Related{ChunkID: e.To, RelationshipPath: path, Distance: hop})
				next = append(next, item)
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	return out
}
