package model

import (
	"sort"
	"strings"
	"time"

	"github.com/secmon-lab/argos/pkg/domain/types"
)

// ConceptID is the canonical identifier of a concept node, derived from its
// normalized label.
type ConceptID string

// String returns the string representation of the concept ID
func (c ConceptID) String() string {
	return string(c)
}

// NormalizeConceptLabel canonicalizes a concept label: trimmed, lowercased,
// inner whitespace collapsed to single spaces.
func NormalizeConceptLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// NewConceptID derives the concept ID for a label. Equal normalized labels
// always map to the same ID.
func NewConceptID(label string) ConceptID {
	normalized := NormalizeConceptLabel(label)
	return ConceptID(strings.ReplaceAll(normalized, " ", "-"))
}

// ConceptNode is the canonical node for one topic label. Created once per
// distinct normalized label.
type ConceptNode struct {
	ID         ConceptID
	Label      string // normalized
	VisitCount int    // number of distinct revisions that referenced it
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NodeID identifies a node in the concept graph. Visit nodes and concept
// nodes share the edge space, so the ID carries the node type.
type NodeID string

// VisitNode returns the graph node ID for a visit, keyed by fingerprint so
// that successive revisions reinforce the same node.
func VisitNode(fp Fingerprint) NodeID {
	return NodeID("visit:" + string(fp))
}

// ConceptNodeID returns the graph node ID for a concept.
func ConceptNodeID(id ConceptID) NodeID {
	return NodeID("concept:" + string(id))
}

// IsConcept reports whether the node refers to a concept.
func (n NodeID) IsConcept() bool {
	return strings.HasPrefix(string(n), "concept:")
}

// IsVisit reports whether the node refers to a visit.
func (n NodeID) IsVisit() bool {
	return strings.HasPrefix(string(n), "visit:")
}

// Ref returns the node ID without its type prefix.
func (n NodeID) Ref() string {
	if i := strings.Index(string(n), ":"); i >= 0 {
		return string(n)[i+1:]
	}
	return string(n)
}

// String returns the string representation of the node ID
func (n NodeID) String() string {
	return string(n)
}

// EdgeID identifies an edge by kind and endpoints. Undirected kinds order
// their endpoints canonically so (a,b) and (b,a) collapse to one edge.
type EdgeID string

// NewEdgeID builds the canonical edge ID for a kind and endpoint pair.
func NewEdgeID(kind types.EdgeKind, a, b NodeID) EdgeID {
	if kind == types.EdgeKindRelatedTo {
		ends := []string{string(a), string(b)}
		sort.Strings(ends)
		a, b = NodeID(ends[0]), NodeID(ends[1])
	}
	return EdgeID(string(kind) + "|" + string(a) + "|" + string(b))
}

// Edge is a typed, weighted relation between two graph nodes. Weights are
// additive and monotonically reinforced; the same evidence never counts
// twice.
type Edge struct {
	ID        EdgeID
	Kind      types.EdgeKind
	Source    NodeID
	Target    NodeID
	Weight    float64
	Evidence  map[string]bool // evidence IDs already applied
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Other returns the endpoint of the edge that is not n.
func (e *Edge) Other(n NodeID) NodeID {
	if e.Source == n {
		return e.Target
	}
	return e.Source
}
