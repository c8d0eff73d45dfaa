package moss

import (
	"testing"

	"github.com/flowmesh/dtc/store"
)

func TestMossConformance(t *testing.T) {
	store.Conformance(t, Supplier)
}
