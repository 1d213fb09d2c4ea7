package types

import "fmt"

// EdgeKind is the type of a graph edge.
type EdgeKind string

const (
	// EdgeKindAbout links a visit node to a concept node.
	EdgeKindAbout EdgeKind = "about"
	// EdgeKindRelatedTo links two concept nodes, or two visit nodes found
	// similar above the configured threshold. Undirected.
	EdgeKindRelatedTo EdgeKind = "related-to"
)

// IsValid checks if the edge kind is valid
func (k EdgeKind) IsValid() bool {
	switch k {
	case EdgeKindAbout, EdgeKindRelatedTo:
		return true
	default:
		return false
	}
}

// String returns the string representation of the edge kind
func (k EdgeKind) String() string {
	return string(k)
}

// ParseEdgeKind parses a string into an EdgeKind
func ParseEdgeKind(s string) (EdgeKind, error) {
	kind := EdgeKind(s)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid edge kind: %s", s)
	}
	return kind, nil
}
