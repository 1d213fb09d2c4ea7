package summary

import (
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
)

func TestResponseSchema(t *testing.T) {
	schema := buildResponseSchema()
	gt.Value(t, schema.Type).Equal(gollem.TypeObject)

	s := schema.Properties["summary"]
	gt.Value(t, s).NotNil()
	gt.Value(t, s.Type).Equal(gollem.TypeString)
	gt.Bool(t, s.Required).True()

	c := schema.Properties["concepts"]
	gt.Value(t, c).NotNil()
	gt.Value(t, c.Type).Equal(gollem.TypeArray)
	gt.Bool(t, c.Required).True()
	gt.Value(t, c.Items.Type).Equal(gollem.TypeString)
}

func TestNormalizeConcepts(t *testing.T) {
	t.Run("lowercases, dedupes and drops empties", func(t *testing.T) {
		got := normalizeConcepts([]string{"Rust", "  rust  ", "", "Go Modules", "go  modules"})
		gt.Array(t, got).Length(2)
		gt.Value(t, got[0]).Equal("rust")
		gt.Value(t, got[1]).Equal("go modules")
	})

	t.Run("caps the list", func(t *testing.T) {
		labels := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
		gt.Array(t, normalizeConcepts(labels)).Length(maxConcepts)
	})
}
