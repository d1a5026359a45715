// Package model содержит доменные сущности экономики гоночной игры.
package model

import (
	"encoding/json"
	"time"
)

// ReceiptStatus описывает состояние квитанции идемпотентности.
type ReceiptStatus string

const (
	ReceiptInProgress ReceiptStatus = "in_progress"
	ReceiptCompleted  ReceiptStatus = "completed"
	ReceiptFailed     ReceiptStatus = "failed"
)

// Receipt: запись идемпотентности для пары (игрок, opId).
type Receipt struct {
	PlayerID    string
	OpID        string
	Operation   string
	Status      ReceiptStatus
	Result      json.RawMessage
	ErrorCode   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Player хранит кошелёк и прогресс игрока.
type Player struct {
	ID               string
	Exists           bool
	Gems             int64
	Coins            int64
	Exp              int64
	Trophies         int64
	CoinBoosterUntil *time.Time
	ExpBoosterUntil  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CoinBoosterActive сообщает, действует ли бустер монет в момент now.
func (p Player) CoinBoosterActive(now time.Time) bool {
	return p.CoinBoosterUntil != nil && now.Before(*p.CoinBoosterUntil)
}

// ExpBoosterActive сообщает, действует ли бустер опыта в момент now.
func (p Player) ExpBoosterActive(now time.Time) bool {
	return p.ExpBoosterUntil != nil && now.Before(*p.ExpBoosterUntil)
}

// InventoryEntry: количество одного SKU у игрока.
type InventoryEntry struct {
	PlayerID  string
	SkuID     string
	Quantity  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SummaryItem: денормализованная строка сводки инвентаря.
type SummaryItem struct {
	Quantity int64  `json:"qty"`
	Type     string `json:"type"`
	Rarity   string `json:"rarity,omitempty"`
}

// InventorySummary: агрегированное представление инвентаря игрока.
type InventorySummary struct {
	PlayerID  string
	Items     map[string]SummaryItem
	Totals    map[string]int64
	UpdatedAt time.Time
}

// OfferState: состояние слота основного предложения.
type OfferState string

const (
	OfferActive        OfferState = "active"
	OfferCooldown      OfferState = "cooldown"
	OfferPurchaseDelay OfferState = "purchase_delay"
)

// Valid сообщает, является ли значение допустимым состоянием.
func (s OfferState) Valid() bool {
	switch s {
	case OfferActive, OfferCooldown, OfferPurchaseDelay:
		return true
	}
	return false
}

// SpecialTrigger: причина появления специального предложения.
type SpecialTrigger string

const (
	TriggerLevelUp           SpecialTrigger = "level_up"
	TriggerFlashMissingKey   SpecialTrigger = "flash_missing_key"
	TriggerFlashMissingCrate SpecialTrigger = "flash_missing_crate"
)

// Valid сообщает, известен ли триггер.
func (t SpecialTrigger) Valid() bool {
	switch t {
	case TriggerLevelUp, TriggerFlashMissingKey, TriggerFlashMissingCrate:
		return true
	}
	return false
}

// SpecialOffer: запись в массиве специальных предложений.
type SpecialOffer struct {
	OfferID     string            `json:"offerId"`
	TriggerType SpecialTrigger    `json:"triggerType"`
	ExpiresAt   int64             `json:"expiresAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MainOffer: документ активного предложения игрока.
// Времена хранятся в миллисекундах Unix.
type MainOffer struct {
	PlayerID      string
	OfferID       string
	OfferType     string
	ExpiresAt     int64
	Tier          int
	State         OfferState
	NextOfferAt   *int64
	IsStarter     bool
	SpecialOffers []SpecialOffer
	UpdatedAt     time.Time
}

// PurchaseRecord: элемент истории покупок предложений.
type PurchaseRecord struct {
	OfferID     string `json:"offerId"`
	Tier        int    `json:"tier"`
	IsIAP       bool   `json:"isIap"`
	PurchasedAt int64  `json:"purchasedAt"`
}

// OfferFlowState управляет прогрессией по лестнице предложений.
type OfferFlowState struct {
	PlayerID          string
	Tier              int
	StarterEligible   bool
	StarterShown      bool
	StarterPurchased  bool
	OffersPurchased   []PurchaseRecord
	TotalIAPPurchases int
	LastExpiredAt     *int64
	LastPurchasedAt   *int64
	UpdatedAt         time.Time
}

// TransitionReason: причина запланированного перехода.
type TransitionReason string

const (
	ReasonOfferExpired     TransitionReason = "offer_expired"
	ReasonPurchaseDelayEnd TransitionReason = "purchase_delay_end"
	ReasonCooldownEnd      TransitionReason = "cooldown_end"
)

// ScheduledTransition: единственная ожидающая запись планировщика для игрока.
type ScheduledTransition struct {
	PlayerID  string
	FireAt    int64
	Reason    TransitionReason
	Tier      int
	CreatedAt time.Time
}

// RaceStatus описывает стадию заезда.
type RaceStatus string

const (
	RaceStarted  RaceStatus = "started"
	RaceFinished RaceStatus = "finished"
)

// Race хранит снимок рейтингов на старте заезда и предварительное списание трофеев.
type Race struct {
	PlayerID    string
	RaceID      string
	PlayerIndex int
	Ratings     []int
	PreDeducted int
	Status      RaceStatus
	Result      json.RawMessage
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// MillisOf переводит время в миллисекунды Unix.
func MillisOf(t time.Time) int64 {
	return t.UnixMilli()
}
