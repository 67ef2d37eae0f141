package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBase(t *testing.T) *Base {
	t.Helper()
	b, err := New(context.Background(), NewHashEmbedder(256))
	require.NoError(t, err)
	return b
}

func TestFaultsCatalogue(t *testing.T) {
	faults, err := Faults()
	require.NoError(t, err)
	assert.Len(t, faults, 28)

	classes := map[string]bool{}
	for _, f := range faults {
		classes[f.Equipment] = true
		assert.NotEmpty(t, f.Suggestion, f.Fault)
	}
	assert.Equal(t, map[string]bool{"TFA": true, "Chiller": true, "Pump": true, "AQI Sensor": true}, classes)
}

func TestLookup(t *testing.T) {
	b := newBase(t)

	got := b.Lookup("fan failure", "")
	assert.Len(t, got, 3)

	got = b.Lookup("Fan Failure", "overload")
	require.Len(t, got, 1)
	assert.Equal(t, "VFD fault", got[0].Possibility)

	assert.Empty(t, b.Lookup("unknown", ""))
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	b := newBase(t)

	got, err := b.Search(ctx, "chiller compressor short cycling", 2, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Chiller", got[0].Fault.Equipment)
	assert.Equal(t, "Compressor Fault", got[0].Fault.Fault)
	assert.GreaterOrEqual(t, got[0].Similarity, got[1].Similarity)
}

func TestSearchByEquipment(t *testing.T) {
	ctx := context.Background()
	b := newBase(t)

	got, err := b.Search(ctx, "power supply", 10, "pump")
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, r := range got {
		assert.Equal(t, "Pump", r.Fault.Equipment)
	}
}

func TestSearchEmpty(t *testing.T) {
	b, err := NewFromFaults(context.Background(), NewHashEmbedder(16), nil)
	require.NoError(t, err)
	got, err := b.Search(context.Background(), "anything", 3, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"Chiller fault", ""})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"chiller FAULT"})
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])
	assert.Len(t, a[1], 65)
}

func TestEquipmentFor(t *testing.T) {
	assert.Equal(t, "Chiller", EquipmentFor("why is chiller underperformance happening"))
	assert.Equal(t, "AQI Sensor", EquipmentFor("IAQ sensor readings look off"))
	assert.Empty(t, EquipmentFor("the lobby is warm and noisy"))
}
