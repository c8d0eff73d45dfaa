package leveldb

import (
	"testing"

	"github.com/flowmesh/dtc/store"
)

func TestLevelDBConformance(t *testing.T) {
	store.Conformance(t, Supplier(t.TempDir()))
}
