package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/clock"
	"github.com/mmeshcher/race-economy/internal/model"
)

func TestEmbeddedCatalogIsValid(t *testing.T) {
	snap, err := EmbeddedSource{}.Load(context.Background())
	require.NoError(t, err)

	sku, err := snap.ResolveSKU("sku_csm_1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), sku.GemPrice)
	assert.False(t, sku.Stackable)

	for tier := 0; tier <= 4; tier++ {
		assert.NotEmpty(t, snap.LadderOffers(tier), "tier %d has no ladder offer", tier)
	}

	_, ok := snap.StarterOffer()
	assert.True(t, ok)

	for _, trig := range []model.SpecialTrigger{model.TriggerLevelUp, model.TriggerFlashMissingKey, model.TriggerFlashMissingCrate} {
		_, ok := snap.SpecialOffer(trig)
		assert.True(t, ok, "no special offer for %s", trig)
	}

	assert.Len(t, snap.SKUsForItem("decal_flame"), 2)
}

func TestResolveErrors(t *testing.T) {
	snap, err := EmbeddedSource{}.Load(context.Background())
	require.NoError(t, err)

	_, err = snap.ResolveSKU("nope")
	assert.True(t, errors.Is(err, ErrSKUNotFound))
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = snap.Crate("nope")
	assert.True(t, errors.Is(err, ErrCrateNotFound))

	_, err = snap.Offer("nope")
	assert.True(t, errors.Is(err, ErrOfferNotFound))
}

func TestParseRejectsBrokenReferences(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "duplicate sku",
			yaml: "skus:\n  - {id: a, type: part}\n  - {id: a, type: part}\n",
		},
		{
			name: "crate pool unknown sku",
			yaml: "skus:\n  - {id: c, type: crate}\ncrates:\n  - {id: x, skuId: c, rarities: [{rarity: common, weight: 1, skus: [missing]}]}\n",
		},
		{
			name: "offer tier out of range",
			yaml: "offers:\n  - {id: o, type: ladder, tier: 7, currency: gems}\n",
		},
		{
			name: "booster without duration",
			yaml: "skus:\n  - {id: b, type: booster}\n",
		},
		{
			name: "unknown field",
			yaml: "skus:\n  - {id: a, type: part, colour: red}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

type countingSource struct {
	loads int
	err   error
}

func (s *countingSource) Load(ctx context.Context) (*Snapshot, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return EmbeddedSource{}.Load(ctx)
}

func TestCacheHonoursTTLAndInvalidate(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	src := &countingSource{}
	c := NewCache(src, clk, time.Minute)

	var reloads int
	c.OnLoad(func(*Snapshot) { reloads++ })

	_, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.loads)

	clk.Advance(2 * time.Minute)
	_, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.loads)

	c.Invalidate()
	_, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, src.loads)
	assert.Equal(t, 3, reloads)
}

func TestCacheServesStaleSnapshotOnReloadError(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	src := &countingSource{}
	c := NewCache(src, clk, time.Minute)

	first, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	src.err = errors.New("disk gone")
	clk.Advance(time.Hour)

	again, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, again)

	c.Invalidate()
	_, err = c.Snapshot(context.Background())
	assert.Error(t, err)
}
