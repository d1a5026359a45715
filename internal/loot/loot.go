// Package loot выбирает награду из ящика детерминированно по (игрок, opId, ящик).
package loot

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
)

const seedDomain = "race-economy/loot/v1"

// ErrEmptyCrate: после фильтрации в ящике не осталось доступных наград.
var ErrEmptyCrate = apperr.FailedPrecondition("crate has no eligible rewards")

// Pick: выбранная награда.
type Pick struct {
	Rarity string `json:"rarity"`
	SkuID  string `json:"skuId"`
}

// Pool: редкость с отфильтрованным набором SKU.
type Pool struct {
	Rarity string
	Weight uint64
	SKUs   []string
}

// Seed вычисляет зерно SHA-256 от кортежа с разделителями 0x00.
func Seed(playerID, opID, crateID string) [32]byte {
	h := sha256.New()
	h.Write([]byte(seedDomain))
	for _, part := range []string{playerID, opID, crateID} {
		h.Write([]byte{0x00})
		h.Write([]byte(part))
	}

	var seed [32]byte
	copy(seed[:], h.Sum(nil))
	return seed
}

// EligiblePools отбрасывает заглушки, некосметику в косметических ящиках,
// а также редкости с нулевым весом или пустым набором. Порядок редкостей сохраняется.
func EligiblePools(crate catalog.Crate, snap *catalog.Snapshot) ([]Pool, error) {
	pools := make([]Pool, 0, len(crate.Rarities))
	for _, r := range crate.Rarities {
		if r.Weight <= 0 {
			continue
		}

		var skus []string
		for _, id := range r.SKUs {
			sku, ok := snap.SKU(id)
			if !ok {
				return nil, fmt.Errorf("%w: crate %s sku %s", catalog.ErrBrokenReference, crate.ID, id)
			}
			if sku.IsDefault() {
				continue
			}
			if crate.CosmeticOnly && sku.Type != catalog.TypeCosmetic {
				continue
			}
			skus = append(skus, id)
		}
		if len(skus) == 0 {
			continue
		}

		pools = append(pools, Pool{Rarity: r.Rarity, Weight: uint64(r.Weight), SKUs: skus})
	}
	return pools, nil
}

// Select выбирает редкость по накопленным весам, затем SKU внутри редкости.
func Select(crate catalog.Crate, snap *catalog.Snapshot, seed [32]byte) (Pick, error) {
	pools, err := EligiblePools(crate, snap)
	if err != nil {
		return Pick{}, err
	}
	return Roll(pools, seed)
}

// Roll выполняет выбор по уже отфильтрованным наборам.
func Roll(pools []Pool, seed [32]byte) (Pick, error) {
	var total uint64
	for _, p := range pools {
		total += p.Weight
	}
	if total == 0 {
		return Pick{}, ErrEmptyCrate
	}

	roll := scale(binary.BigEndian.Uint64(seed[:8]), total)

	var cum uint64
	for _, p := range pools {
		cum += p.Weight
		if roll >= cum {
			continue
		}

		h := sha256.New()
		h.Write(seed[:])
		h.Write([]byte(p.Rarity))
		sub := h.Sum(nil)

		idx := scale(binary.BigEndian.Uint64(sub[:8]), uint64(len(p.SKUs)))
		return Pick{Rarity: p.Rarity, SkuID: p.SKUs[idx]}, nil
	}

	return Pick{}, ErrEmptyCrate
}

// scale отображает x из [0, 2^64) в [0, n) как floor(x*n / 2^64).
func scale(x, n uint64) uint64 {
	hi, _ := bits.Mul64(x, n)
	return hi
}
