package offer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.EmbeddedSource{}.Load(context.Background())
	require.NoError(t, err)
	return snap
}

func ms(t time.Time) int64 { return model.MillisOf(t) }

func TestActivate_StarterFirstThenLadder(t *testing.T) {
	snap := snapshot(t)
	mc := NewMachine(Config{})

	tr, err := mc.Activate("p1", nil, NewFlow("p1", now), snap, now)
	require.NoError(t, err)
	assert.Equal(t, "offer_starter", tr.Main.OfferID)
	assert.True(t, tr.Main.IsStarter)
	assert.True(t, tr.Flow.StarterShown)
	assert.Equal(t, model.OfferActive, tr.Main.State)
	assert.Nil(t, tr.Main.NextOfferAt)
	assert.Equal(t, ms(now.Add(24*time.Hour)), tr.Main.ExpiresAt)
	assert.Equal(t, model.ReasonOfferExpired, tr.Next.Reason)
	assert.Equal(t, tr.Main.ExpiresAt, tr.Next.FireAt)
	require.NoError(t, Validate(&tr.Main))

	again, err := mc.Activate("p1", &tr.Main, tr.Flow, snap, now)
	require.NoError(t, err)
	assert.Equal(t, "offer_t0", again.Main.OfferID)
	assert.False(t, again.Main.IsStarter)
}

func TestExpire_DemotesAndStartsCooldown(t *testing.T) {
	mc := NewMachine(Config{Cooldown: time.Hour})
	main := model.MainOffer{PlayerID: "p1", OfferID: "offer_t3", Tier: 3, State: model.OfferActive, ExpiresAt: ms(now)}
	flow := model.OfferFlowState{PlayerID: "p1", Tier: 3}

	_, err := mc.Expire(main, flow, now.Add(-time.Second))
	require.ErrorIs(t, err, ErrNotReady)

	tr, err := mc.Expire(main, flow, now)
	require.NoError(t, err)
	assert.Equal(t, model.OfferCooldown, tr.Main.State)
	assert.Equal(t, "offer_t3", tr.Main.OfferID, "cooldown keeps the offer that ended")
	require.NotNil(t, tr.Main.NextOfferAt)
	assert.Equal(t, ms(now.Add(time.Hour)), *tr.Main.NextOfferAt)
	assert.Equal(t, 1, tr.Flow.Tier)
	assert.Equal(t, model.ReasonCooldownEnd, tr.Next.Reason)
	assert.Equal(t, 1, tr.Next.Tier)
	require.NoError(t, Validate(&tr.Main))
}

func TestPurchase(t *testing.T) {
	snap := snapshot(t)
	mc := NewMachine(Config{PurchaseDelay: 5 * time.Minute})
	def, err := snap.Offer("offer_t4")
	require.NoError(t, err)

	main := model.MainOffer{PlayerID: "p1", OfferID: "offer_t4", Tier: 4, State: model.OfferActive, ExpiresAt: ms(now.Add(time.Hour))}
	flow := model.OfferFlowState{PlayerID: "p1", Tier: 4}

	tr, err := mc.Purchase(main, flow, def, true, now)
	require.NoError(t, err)
	assert.Equal(t, model.OfferPurchaseDelay, tr.Main.State)
	assert.Equal(t, 3, tr.Flow.Tier, "tier 4 wraps to 3")
	assert.Equal(t, 1, tr.Flow.TotalIAPPurchases)
	require.Len(t, tr.Flow.OffersPurchased, 1)
	assert.Equal(t, model.ReasonPurchaseDelayEnd, tr.Next.Reason)
	assert.Equal(t, ms(now.Add(5*time.Minute)), tr.Next.FireAt)

	_, err = mc.Purchase(tr.Main, tr.Flow, def, true, now)
	require.ErrorIs(t, err, ErrOfferNotActive)
	assert.Equal(t, apperr.CodeFailedPrecondition, apperr.CodeOf(err))

	_, err = mc.Purchase(main, flow, def, true, now.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrOfferExpired)
}

func TestAdvance_FullCycle(t *testing.T) {
	snap := snapshot(t)
	mc := NewMachine(Config{Cooldown: time.Hour, PurchaseDelay: 5 * time.Minute})
	flow := NewFlow("p1", now)
	flow.StarterEligible = false
	flow.Tier = 2

	tr, err := mc.Activate("p1", nil, flow, snap, now)
	require.NoError(t, err)
	assert.Equal(t, "offer_t2", tr.Main.OfferID)

	expiry := time.UnixMilli(tr.Main.ExpiresAt).UTC()
	tr, err = mc.Advance(tr.Main, tr.Flow, snap, expiry)
	require.NoError(t, err)
	assert.Equal(t, model.OfferCooldown, tr.Main.State)
	assert.Equal(t, 0, tr.Flow.Tier)

	_, err = mc.Advance(tr.Main, tr.Flow, snap, expiry.Add(time.Minute))
	require.ErrorIs(t, err, ErrNotReady)

	tr, err = mc.Advance(tr.Main, tr.Flow, snap, expiry.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.OfferActive, tr.Main.State)
	assert.Equal(t, "offer_t0", tr.Main.OfferID)
	assert.Nil(t, tr.Main.NextOfferAt)
}

func TestValidate(t *testing.T) {
	next := ms(now)
	tests := []struct {
		name string
		m    *model.MainOffer
		ok   bool
	}{
		{name: "missing", m: nil},
		{name: "bad state", m: &model.MainOffer{OfferID: "o", State: "paused"}},
		{name: "bad tier", m: &model.MainOffer{OfferID: "o", State: model.OfferActive, Tier: 7, ExpiresAt: 1}},
		{name: "active with next", m: &model.MainOffer{OfferID: "o", State: model.OfferActive, ExpiresAt: 1, NextOfferAt: &next}},
		{name: "cooldown without next", m: &model.MainOffer{OfferID: "o", State: model.OfferCooldown}},
		{name: "valid cooldown", m: &model.MainOffer{OfferID: "o", State: model.OfferCooldown, NextOfferAt: &next}, ok: true},
		{name: "valid active", m: &model.MainOffer{OfferID: "o", State: model.OfferActive, ExpiresAt: 1}, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.m)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSpecials(t *testing.T) {
	snap := snapshot(t)
	def, ok := snap.SpecialOffer(model.TriggerFlashMissingKey)
	require.True(t, ok)

	list, so, err := AddSpecial(nil, def, map[string]string{"crateId": "crate_cosmetic"}, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ms(now.Add(30*time.Minute)), so.ExpiresAt)

	_, _, err = AddSpecial(list, def, nil, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrSpecialExists)

	_, found := FindSpecial(list, def.ID, ms(now.Add(31*time.Minute)))
	assert.False(t, found, "expired specials are not purchasable")

	list, _, err = AddSpecial(list, def, nil, now.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Len(t, list, 1, "expired entry is pruned before adding")

	assert.Empty(t, RemoveSpecial(list, def.ID))
}
