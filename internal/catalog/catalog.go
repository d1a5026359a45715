// Package catalog описывает справочник SKU, ящиков и предложений и его кэш.
package catalog

import (
	"fmt"
	"sort"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/model"
)

// Типы SKU, которые различает экономика.
const (
	TypeCosmetic = "cosmetic"
	TypeCrate    = "crate"
	TypeKey      = "key"
	TypeBooster  = "booster"
	TypeCar      = "car"
	TypePart     = "part"
)

// Валюты цен.
const (
	CurrencyGems  = "gems"
	CurrencyCoins = "coins"
	CurrencyIAP   = "iap"
)

// Виды предложений.
const (
	OfferLadder  = "ladder"
	OfferStarter = "starter"
	OfferSpecial = "special"
)

// Виды бустеров.
const (
	BoosterCoin = "coin"
	BoosterExp  = "exp"
)

var (
	ErrSKUNotFound   = apperr.NotFound("sku not found")
	ErrCrateNotFound = apperr.NotFound("crate not found")
	ErrOfferNotFound = apperr.NotFound("offer not found")
	// ErrBrokenReference: справочник ссылается на отсутствующую запись.
	ErrBrokenReference = apperr.FailedPrecondition("catalog reference missing")
)

// Booster описывает эффект SKU-бустера.
type Booster struct {
	Kind            string `yaml:"kind" json:"kind"`
	DurationMinutes int    `yaml:"durationMinutes" json:"durationMinutes"`
}

// SKU: единица инвентаря.
type SKU struct {
	ID          string   `yaml:"id" json:"id"`
	ItemID      string   `yaml:"itemId" json:"itemId"`
	Type        string   `yaml:"type" json:"type"`
	Rarity      string   `yaml:"rarity" json:"rarity,omitempty"`
	Stackable   bool     `yaml:"stackable" json:"stackable"`
	GemPrice    int64    `yaml:"gemPrice" json:"gemPrice,omitempty"`
	Placeholder bool     `yaml:"placeholder" json:"placeholder,omitempty"`
	Booster     *Booster `yaml:"booster" json:"booster,omitempty"`
}

// IsDefault сообщает, является ли SKU заглушкой, которую нельзя выдавать из ящиков.
func (s SKU) IsDefault() bool {
	return s.Placeholder || s.ID == "default" || s.ItemID == "default"
}

// RarityPool: вес редкости и набор SKU этой редкости.
type RarityPool struct {
	Rarity string   `yaml:"rarity"`
	Weight int      `yaml:"weight"`
	SKUs   []string `yaml:"skus"`
}

// Crate: определение ящика.
type Crate struct {
	ID             string       `yaml:"id"`
	SkuID          string       `yaml:"skuId"`
	KeySkuID       string       `yaml:"keySkuId"`
	CosmeticOnly   bool         `yaml:"cosmeticOnly"`
	DuplicateCoins int64        `yaml:"duplicateCoins"`
	Rarities       []RarityPool `yaml:"rarities"`
}

// Entitlement: выдача SKU в составе предложения.
type Entitlement struct {
	SkuID    string `yaml:"skuId" json:"skuId"`
	Quantity int64  `yaml:"quantity" json:"quantity"`
}

// Offer: определение предложения.
type Offer struct {
	ID              string               `yaml:"id"`
	Type            string               `yaml:"type"`
	Tier            int                  `yaml:"tier"`
	DurationMinutes int                  `yaml:"durationMinutes"`
	Price           int64                `yaml:"price"`
	Currency        string               `yaml:"currency"`
	ProductID       string               `yaml:"productId"`
	Trigger         model.SpecialTrigger `yaml:"trigger"`
	Gems            int64                `yaml:"gems"`
	Coins           int64                `yaml:"coins"`
	Entitlements    []Entitlement        `yaml:"entitlements"`
}

// Snapshot: неизменяемый снимок справочника с индексами.
type Snapshot struct {
	SKUs   []SKU   `yaml:"skus"`
	Crates []Crate `yaml:"crates"`
	Offers []Offer `yaml:"offers"`

	skuByID   map[string]SKU
	skusByItm map[string][]SKU
	crateByID map[string]Crate
	offerByID map[string]Offer
}

// Index строит индексы и проверяет ссылочную целостность.
func (s *Snapshot) Index() error {
	s.skuByID = make(map[string]SKU, len(s.SKUs))
	s.skusByItm = make(map[string][]SKU)
	s.crateByID = make(map[string]Crate, len(s.Crates))
	s.offerByID = make(map[string]Offer, len(s.Offers))

	for _, sku := range s.SKUs {
		if sku.ID == "" {
			return fmt.Errorf("sku with empty id")
		}
		if _, dup := s.skuByID[sku.ID]; dup {
			return fmt.Errorf("duplicate sku %q", sku.ID)
		}
		if sku.Type == TypeBooster && (sku.Booster == nil || sku.Booster.DurationMinutes <= 0) {
			return fmt.Errorf("booster sku %q without duration", sku.ID)
		}
		s.skuByID[sku.ID] = sku
		s.skusByItm[sku.ItemID] = append(s.skusByItm[sku.ItemID], sku)
	}

	for _, c := range s.Crates {
		if _, dup := s.crateByID[c.ID]; dup {
			return fmt.Errorf("duplicate crate %q", c.ID)
		}
		if _, ok := s.skuByID[c.SkuID]; !ok {
			return fmt.Errorf("crate %q: unknown crate sku %q", c.ID, c.SkuID)
		}
		if c.KeySkuID != "" {
			if _, ok := s.skuByID[c.KeySkuID]; !ok {
				return fmt.Errorf("crate %q: unknown key sku %q", c.ID, c.KeySkuID)
			}
		}
		for _, r := range c.Rarities {
			if r.Weight < 0 {
				return fmt.Errorf("crate %q: negative weight for %q", c.ID, r.Rarity)
			}
			for _, id := range r.SKUs {
				if _, ok := s.skuByID[id]; !ok {
					return fmt.Errorf("crate %q: unknown sku %q", c.ID, id)
				}
			}
		}
		s.crateByID[c.ID] = c
	}

	for _, o := range s.Offers {
		if _, dup := s.offerByID[o.ID]; dup {
			return fmt.Errorf("duplicate offer %q", o.ID)
		}
		if o.Tier < 0 || o.Tier > 4 {
			return fmt.Errorf("offer %q: tier %d out of range", o.ID, o.Tier)
		}
		switch o.Currency {
		case CurrencyGems, CurrencyCoins, CurrencyIAP:
		default:
			return fmt.Errorf("offer %q: unknown currency %q", o.ID, o.Currency)
		}
		for _, e := range o.Entitlements {
			if _, ok := s.skuByID[e.SkuID]; !ok {
				return fmt.Errorf("offer %q: unknown sku %q", o.ID, e.SkuID)
			}
		}
		s.offerByID[o.ID] = o
	}

	return nil
}

// SKU возвращает SKU по идентификатору.
func (s *Snapshot) SKU(id string) (SKU, bool) {
	sku, ok := s.skuByID[id]
	return sku, ok
}

// ResolveSKU возвращает SKU или ErrSKUNotFound.
func (s *Snapshot) ResolveSKU(id string) (SKU, error) {
	sku, ok := s.skuByID[id]
	if !ok {
		return SKU{}, fmt.Errorf("%w: %s", ErrSKUNotFound, id)
	}
	return sku, nil
}

// SKUsForItem возвращает все варианты предмета.
func (s *Snapshot) SKUsForItem(itemID string) []SKU {
	return append([]SKU(nil), s.skusByItm[itemID]...)
}

// Crate возвращает определение ящика или ErrCrateNotFound.
func (s *Snapshot) Crate(id string) (Crate, error) {
	c, ok := s.crateByID[id]
	if !ok {
		return Crate{}, fmt.Errorf("%w: %s", ErrCrateNotFound, id)
	}
	return c, nil
}

// Offer возвращает определение предложения или ErrOfferNotFound.
func (s *Snapshot) Offer(id string) (Offer, error) {
	o, ok := s.offerByID[id]
	if !ok {
		return Offer{}, fmt.Errorf("%w: %s", ErrOfferNotFound, id)
	}
	return o, nil
}

// LadderOffers возвращает предложения лестницы заданного уровня, отсортированные по id.
func (s *Snapshot) LadderOffers(tier int) []Offer {
	var res []Offer
	for _, o := range s.Offers {
		if o.Type == OfferLadder && o.Tier == tier {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// StarterOffer возвращает стартовое предложение, если оно есть.
func (s *Snapshot) StarterOffer() (Offer, bool) {
	for _, o := range s.Offers {
		if o.Type == OfferStarter {
			return o, true
		}
	}
	return Offer{}, false
}

// SpecialOffer возвращает специальное предложение для триггера.
func (s *Snapshot) SpecialOffer(trigger model.SpecialTrigger) (Offer, bool) {
	for _, o := range s.Offers {
		if o.Type == OfferSpecial && o.Trigger == trigger {
			return o, true
		}
	}
	return Offer{}, false
}
