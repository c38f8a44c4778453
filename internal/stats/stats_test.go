package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAlwaysExists(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Default())
	assert.Same(t, r.Default(), r.LookupByKey("anything"))
	assert.Same(t, r.Default(), r.LookupByNS("default"))
}

func TestLookupByKeyPrefix(t *testing.T) {
	r := NewRegistry()
	r.Rebuild([]string{"user:", "user:profile:", "session:"})

	assert.Same(t, r.LookupByNS("user:profile:"), r.LookupByKey("user:profile:42"))
	assert.Same(t, r.LookupByNS("user:"), r.LookupByKey("user:42"))
	assert.Same(t, r.LookupByNS("session:"), r.LookupByKey("session:abc"))
	assert.Same(t, r.Default(), r.LookupByKey("other:key"))
}

func TestLookupByNS(t *testing.T) {
	r := NewRegistry()
	r.Rebuild([]string{"a:"})

	assert.NotNil(t, r.LookupByNS("a:"))
	assert.Nil(t, r.LookupByNS("b:"))
	assert.NotNil(t, r.LookupByNS(""), "empty name means global")
}

func TestRebuildPreservesCounters(t *testing.T) {
	r := NewRegistry()
	r.Rebuild([]string{"a:", "b:"})

	r.LookupByNS("a:").WritesTotal.Add(5)
	r.LookupByNS("b:").WritesTotal.Add(7)

	// a: survives, b: is dropped, c: is new.
	r.Rebuild([]string{"a:", "c:"})

	assert.Equal(t, uint64(5), r.LookupByNS("a:").WritesTotal.Load())
	assert.Zero(t, r.LookupByNS("c:").WritesTotal.Load())
	assert.Nil(t, r.LookupByNS("b:"))

	// b: reappearing starts fresh.
	r.Rebuild([]string{"a:", "b:"})
	assert.Zero(t, r.LookupByNS("b:").WritesTotal.Load())
}

func TestRebuildIgnoresDefaultAndEmpty(t *testing.T) {
	r := NewRegistry()
	r.Rebuild([]string{"", "default", "x:"})
	assert.Equal(t, []string{"x:"}, r.Namespaces())
}

func TestOnlyDefaultFastPath(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Namespaces())
	assert.Same(t, r.Default(), r.LookupByKey("user:1"))

	r.Rebuild([]string{"user:"})
	assert.NotSame(t, r.Default(), r.LookupByKey("user:1"))

	r.Rebuild(nil)
	assert.Same(t, r.Default(), r.LookupByKey("user:1"))
}

func TestGlobalAggregates(t *testing.T) {
	r := NewRegistry()
	r.Rebuild([]string{"a:", "b:"})

	addIO := func(b *Block, raw, cmp uint64) {
		b.BytesRawTotal.Add(raw)
		b.BytesCmpTotal.Add(cmp)
	}
	addIO(r.Default(), 100, 40)
	r.Default().WritesTotal.Add(1)
	addIO(r.LookupByNS("a:"), 200, 80)
	addIO(r.LookupByNS("b:"), 300, 120)
	r.LookupByNS("b:").DictMissErrs.Add(2)

	g := r.Global().Fill()
	assert.Equal(t, uint64(600), g.BytesRawTotal)
	assert.Equal(t, uint64(240), g.BytesCmpTotal)
	assert.Equal(t, uint64(1), g.WritesTotal)
	assert.Equal(t, uint64(2), g.DictMissErrs)
	assert.InDelta(t, 2.5, g.CRCurrent, 1e-9)
}

func TestSnapshotRatioZeroSafe(t *testing.T) {
	var b Block
	s := b.Fill()
	assert.Zero(t, s.CRCurrent)
}
