// Package offer содержит чистые функции конечного автомата предложений игрока.
package offer

const (
	MinTier = 0
	MaxTier = 4
)

// ClampTier ограничивает уровень диапазоном [MinTier, MaxTier].
func ClampTier(tier int) int {
	if tier < MinTier {
		return MinTier
	}
	if tier > MaxTier {
		return MaxTier
	}
	return tier
}

// ResolveNextTierOnPurchase: покупка за реальные деньги поднимает уровень на 1,
// с верхнего уровня возвращает на MaxTier-1. Прочие покупки уровень не меняют.
func ResolveNextTierOnPurchase(tier int, isIAP bool) int {
	tier = ClampTier(tier)
	if !isIAP {
		return tier
	}
	if tier == MaxTier {
		return MaxTier - 1
	}
	return tier + 1
}

// ResolveNextTierOnExpiry понижает уровень на 2, не ниже MinTier.
func ResolveNextTierOnExpiry(tier int) int {
	return ClampTier(ClampTier(tier) - 2)
}
