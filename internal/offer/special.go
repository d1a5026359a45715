package offer

import (
	"fmt"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/model"
)

var (
	ErrSpecialExists   = apperr.FailedPrecondition("special offer already active")
	ErrSpecialNotFound = apperr.NotFound("special offer not available")
)

// AddSpecial добавляет специальное предложение. Если такое же предложение ещё
// не истекло, возвращает ErrSpecialExists и список без изменений.
func AddSpecial(list []model.SpecialOffer, def catalog.Offer, metadata map[string]string, now time.Time) ([]model.SpecialOffer, model.SpecialOffer, error) {
	nowMs := model.MillisOf(now)
	list = PruneSpecials(list, nowMs)

	if existing, ok := FindSpecial(list, def.ID, nowMs); ok {
		return list, existing, fmt.Errorf("%w: %s", ErrSpecialExists, def.ID)
	}

	so := model.SpecialOffer{
		OfferID:     def.ID,
		TriggerType: def.Trigger,
		ExpiresAt:   model.MillisOf(now.Add(time.Duration(def.DurationMinutes) * time.Minute)),
		Metadata:    metadata,
	}
	return append(list, so), so, nil
}

// FindSpecial ищет неистёкшее специальное предложение.
func FindSpecial(list []model.SpecialOffer, offerID string, nowMs int64) (model.SpecialOffer, bool) {
	for _, so := range list {
		if so.OfferID == offerID && nowMs < so.ExpiresAt {
			return so, true
		}
	}
	return model.SpecialOffer{}, false
}

// RemoveSpecial удаляет все записи предложения offerID.
func RemoveSpecial(list []model.SpecialOffer, offerID string) []model.SpecialOffer {
	res := make([]model.SpecialOffer, 0, len(list))
	for _, so := range list {
		if so.OfferID != offerID {
			res = append(res, so)
		}
	}
	return res
}

// PruneSpecials удаляет истёкшие записи.
func PruneSpecials(list []model.SpecialOffer, nowMs int64) []model.SpecialOffer {
	res := make([]model.SpecialOffer, 0, len(list))
	for _, so := range list {
		if nowMs < so.ExpiresAt {
			res = append(res, so)
		}
	}
	return res
}
