package loot

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/race-economy/internal/catalog"
)

func snapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.EmbeddedSource{}.Load(context.Background())
	require.NoError(t, err)
	return snap
}

func TestSeed(t *testing.T) {
	seed := Seed("p1", "op-1", "crate_common")
	assert.Equal(t, "da4f8023732d618fc1f84eb74bda8038d6d3e1313fe68ada06557961ccb17ac5", hex.EncodeToString(seed[:]))

	assert.Equal(t, seed, Seed("p1", "op-1", "crate_common"))
	assert.NotEqual(t, seed, Seed("p1", "op-1c", "rate_common"), "tuple parts are separated")
}

func TestSelect_Golden(t *testing.T) {
	snap := snapshot(t)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, crateID := range []string{"crate_common", "crate_cosmetic"} {
		t.Run(crateID, func(t *testing.T) {
			crate, err := snap.Crate(crateID)
			require.NoError(t, err)

			var b strings.Builder
			for _, player := range []string{"p1", "p2", "p3", "player-42"} {
				for i := 1; i <= 5; i++ {
					op := fmt.Sprintf("op-%d", i)
					pick, err := Select(crate, snap, Seed(player, op, crateID))
					require.NoError(t, err)
					fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", player, op, pick.Rarity, pick.SkuID)
				}
			}

			g.Assert(t, crateID, []byte(b.String()))
		})
	}
}

func TestSelect_FiltersIneligibleSKUs(t *testing.T) {
	snap := snapshot(t)

	for _, crateID := range []string{"crate_common", "crate_cosmetic"} {
		crate, err := snap.Crate(crateID)
		require.NoError(t, err)

		for i := 0; i < 2000; i++ {
			pick, err := Select(crate, snap, Seed("p1", fmt.Sprintf("op-%d", i), crateID))
			require.NoError(t, err)

			sku, ok := snap.SKU(pick.SkuID)
			require.True(t, ok)
			assert.False(t, sku.IsDefault(), "placeholder selected from %s", crateID)
			if crate.CosmeticOnly {
				assert.Equal(t, catalog.TypeCosmetic, sku.Type)
			}
		}
	}
}

func TestEligiblePools(t *testing.T) {
	snap := snapshot(t)
	crate, err := snap.Crate("crate_cosmetic")
	require.NoError(t, err)

	pools, err := EligiblePools(crate, snap)
	require.NoError(t, err)
	require.Len(t, pools, 3)
	assert.Equal(t, []string{"sku_csm_3", "sku_csm_4"}, pools[0].SKUs)
}

func TestRoll_Edges(t *testing.T) {
	var seed [32]byte

	_, err := Roll(nil, seed)
	require.ErrorIs(t, err, ErrEmptyCrate)

	pools := []Pool{{Rarity: "a", Weight: 1, SKUs: []string{"x"}}, {Rarity: "b", Weight: 1, SKUs: []string{"y"}}}
	pick, err := Roll(pools, seed)
	require.NoError(t, err)
	assert.Equal(t, "a", pick.Rarity, "zero draw lands in the first bucket")

	for i := range seed[:8] {
		seed[i] = 0xff
	}
	pick, err = Roll(pools, seed)
	require.NoError(t, err)
	assert.Equal(t, "b", pick.Rarity, "max draw lands in the last bucket")
}

func TestSelect_BrokenReference(t *testing.T) {
	snap := snapshot(t)
	crate := catalog.Crate{ID: "c", Rarities: []catalog.RarityPool{{Rarity: "rare", Weight: 1, SKUs: []string{"ghost"}}}}

	_, err := Select(crate, snap, Seed("p", "o", "c"))
	require.ErrorIs(t, err, catalog.ErrBrokenReference)
}
