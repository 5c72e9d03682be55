package matcher

import (
	"github.com/unit-linkage/app/models"
)

// Attribute graph for the graph-assisted layer. Units are nodes, shared
// normalized attributes are edges. The graph is rebuilt per primary from its
// candidate set, so it stays small and needs no locking.

type attrKind uint8

const (
	attrPhone attrKind = iota
	attrLegalRep
	attrAddressKeyword
	attrBuilding
)

type attrKey struct {
	kind  attrKind
	value string
}

type attrGraph struct {
	byAttr map[attrKey][]int // attribute -> candidate indices
}

func buildAttrGraph(candidates []*models.Unit) *attrGraph {
	g := &attrGraph{byAttr: make(map[attrKey][]int)}
	for i, u := range candidates {
		for _, key := range attrKeysOf(u) {
			g.byAttr[key] = append(g.byAttr[key], i)
		}
	}
	return g
}

// sharedAttrCount counts distinct attributes the primary shares with the
// candidate at index idx.
func (g *attrGraph) sharedAttrCount(primary *models.Unit, idx int) int {
	count := 0
	for _, key := range attrKeysOf(primary) {
		for _, ci := range g.byAttr[key] {
			if ci == idx {
				count++
				break
			}
		}
	}
	return count
}

func attrKeysOf(u *models.Unit) []attrKey {
	n := &u.Normalized
	keys := make([]attrKey, 0, 4+len(n.AddressKeywords))
	if n.Phone != "" {
		keys = append(keys, attrKey{attrPhone, n.Phone})
	}
	if n.LegalRep != "" {
		keys = append(keys, attrKey{attrLegalRep, n.LegalRep})
	}
	if u.BuildingID != "" {
		keys = append(keys, attrKey{attrBuilding, u.BuildingID})
	}
	for _, kw := range n.AddressKeywords {
		keys = append(keys, attrKey{attrAddressKeyword, kw})
	}
	return keys
}

// graphBoost maps a shared-attribute count to a similarity boost.
func graphBoost(shared int) float64 {
	boost := 0.5 + 0.2*float64(shared)
	if boost > 1.0 {
		return 1.0
	}
	return boost
}
