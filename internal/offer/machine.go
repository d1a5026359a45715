package offer

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/model"
)

const (
	DefaultCooldown      = 30 * time.Minute
	DefaultPurchaseDelay = 5 * time.Minute
)

var (
	ErrOfferNotActive   = apperr.FailedPrecondition("offer is not active")
	ErrOfferExpired     = apperr.FailedPrecondition("offer expired")
	ErrNotReady         = apperr.FailedPrecondition("transition is not due")
	ErrNoOfferForTier   = apperr.FailedPrecondition("no offer configured for tier")
	ErrMissingMainOffer = errors.New("main offer missing")
	ErrInvalidMainOffer = errors.New("main offer invalid")
)

// Config задаёт длительности состояний.
type Config struct {
	Cooldown      time.Duration
	PurchaseDelay time.Duration
}

// Machine вычисляет переходы. Не хранит состояние и не выполняет ввод-вывод.
type Machine struct {
	cfg Config
}

// NewMachine создаёт автомат; нулевые длительности заменяются значениями по умолчанию.
func NewMachine(cfg Config) Machine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.PurchaseDelay <= 0 {
		cfg.PurchaseDelay = DefaultPurchaseDelay
	}
	return Machine{cfg: cfg}
}

// Transition: новые документы и следующая запись планировщика.
type Transition struct {
	Main model.MainOffer
	Flow model.OfferFlowState
	Next model.ScheduledTransition
}

// Ready сообщает, пора ли выполнить переход для текущего состояния.
func Ready(m model.MainOffer, nowMs int64) bool {
	switch m.State {
	case model.OfferActive:
		return nowMs >= m.ExpiresAt
	case model.OfferCooldown, model.OfferPurchaseDelay:
		return m.NextOfferAt != nil && nowMs >= *m.NextOfferAt
	}
	return false
}

// Validate проверяет инварианты документа основного предложения.
func Validate(m *model.MainOffer) error {
	if m == nil {
		return ErrMissingMainOffer
	}
	if !m.State.Valid() {
		return fmt.Errorf("%w: state %q", ErrInvalidMainOffer, m.State)
	}
	if m.Tier < MinTier || m.Tier > MaxTier {
		return fmt.Errorf("%w: tier %d", ErrInvalidMainOffer, m.Tier)
	}
	if m.OfferID == "" {
		return fmt.Errorf("%w: empty offer id", ErrInvalidMainOffer)
	}
	switch m.State {
	case model.OfferActive:
		if m.NextOfferAt != nil {
			return fmt.Errorf("%w: active offer with nextOfferAt", ErrInvalidMainOffer)
		}
		if m.ExpiresAt <= 0 {
			return fmt.Errorf("%w: active offer without expiry", ErrInvalidMainOffer)
		}
	default:
		if m.NextOfferAt == nil {
			return fmt.Errorf("%w: %s without nextOfferAt", ErrInvalidMainOffer, m.State)
		}
	}
	return nil
}

// ReasonFor возвращает причину перехода, ожидаемую в состоянии s.
func ReasonFor(s model.OfferState) model.TransitionReason {
	switch s {
	case model.OfferCooldown:
		return model.ReasonCooldownEnd
	case model.OfferPurchaseDelay:
		return model.ReasonPurchaseDelayEnd
	default:
		return model.ReasonOfferExpired
	}
}

// ExpectedEntry строит запись планировщика, соответствующую документу.
func ExpectedEntry(m model.MainOffer, tier int, now time.Time) model.ScheduledTransition {
	fireAt := m.ExpiresAt
	if m.State != model.OfferActive && m.NextOfferAt != nil {
		fireAt = *m.NextOfferAt
	}
	return model.ScheduledTransition{
		PlayerID:  m.PlayerID,
		FireAt:    fireAt,
		Reason:    ReasonFor(m.State),
		Tier:      tier,
		CreatedAt: now,
	}
}

// NewFlow: состояние лестницы нового игрока.
func NewFlow(playerID string, now time.Time) model.OfferFlowState {
	return model.OfferFlowState{
		PlayerID:        playerID,
		Tier:            MinTier,
		StarterEligible: true,
		UpdatedAt:       now,
	}
}

// Expire переводит активное предложение в cooldown и понижает уровень.
func (mc Machine) Expire(main model.MainOffer, flow model.OfferFlowState, now time.Time) (Transition, error) {
	nowMs := model.MillisOf(now)
	if main.State != model.OfferActive {
		return Transition{}, fmt.Errorf("%w: state %s", ErrOfferNotActive, main.State)
	}
	if !Ready(main, nowMs) {
		return Transition{}, ErrNotReady
	}

	flow.Tier = ResolveNextTierOnExpiry(flow.Tier)
	flow.LastExpiredAt = &nowMs
	if main.IsStarter {
		flow.StarterEligible = false
	}
	flow.UpdatedAt = now

	next := model.MillisOf(now.Add(mc.cfg.Cooldown))
	main.State = model.OfferCooldown
	main.NextOfferAt = &next
	main.SpecialOffers = PruneSpecials(main.SpecialOffers, nowMs)
	main.UpdatedAt = now

	return Transition{Main: main, Flow: flow, Next: ExpectedEntry(main, flow.Tier, now)}, nil
}

// Purchase фиксирует покупку активного предложения и запускает purchase_delay.
func (mc Machine) Purchase(main model.MainOffer, flow model.OfferFlowState, def catalog.Offer, isIAP bool, now time.Time) (Transition, error) {
	nowMs := model.MillisOf(now)
	if main.State != model.OfferActive || main.OfferID != def.ID {
		return Transition{}, fmt.Errorf("%w: %s", ErrOfferNotActive, def.ID)
	}
	if nowMs >= main.ExpiresAt {
		return Transition{}, fmt.Errorf("%w: %s", ErrOfferExpired, def.ID)
	}

	flow.OffersPurchased = append(flow.OffersPurchased, model.PurchaseRecord{
		OfferID:     def.ID,
		Tier:        main.Tier,
		IsIAP:       isIAP,
		PurchasedAt: nowMs,
	})
	if isIAP {
		flow.TotalIAPPurchases++
	}
	if main.IsStarter {
		flow.StarterPurchased = true
		flow.StarterEligible = false
	}
	flow.Tier = ResolveNextTierOnPurchase(flow.Tier, isIAP)
	flow.LastPurchasedAt = &nowMs
	flow.UpdatedAt = now

	next := model.MillisOf(now.Add(mc.cfg.PurchaseDelay))
	main.State = model.OfferPurchaseDelay
	main.NextOfferAt = &next
	main.SpecialOffers = PruneSpecials(main.SpecialOffers, nowMs)
	main.UpdatedAt = now

	return Transition{Main: main, Flow: flow, Next: ExpectedEntry(main, flow.Tier, now)}, nil
}

// Activate показывает новое предложение на уровне flow.Tier. Стартовое
// предложение показывается первым, если игрок его ещё не видел.
// prev может быть nil; его специальные предложения сохраняются.
func (mc Machine) Activate(playerID string, prev *model.MainOffer, flow model.OfferFlowState, snap *catalog.Snapshot, now time.Time) (Transition, error) {
	nowMs := model.MillisOf(now)
	flow.PlayerID = playerID
	flow.Tier = ClampTier(flow.Tier)

	def, starter, err := pickOffer(flow, snap, now)
	if err != nil {
		return Transition{}, err
	}
	if starter {
		flow.StarterShown = true
	}
	flow.UpdatedAt = now

	main := model.MainOffer{
		PlayerID:  playerID,
		OfferID:   def.ID,
		OfferType: def.Type,
		ExpiresAt: model.MillisOf(now.Add(time.Duration(def.DurationMinutes) * time.Minute)),
		Tier:      flow.Tier,
		State:     model.OfferActive,
		IsStarter: starter,
		UpdatedAt: now,
	}
	if prev != nil {
		main.SpecialOffers = PruneSpecials(prev.SpecialOffers, nowMs)
	}

	return Transition{Main: main, Flow: flow, Next: ExpectedEntry(main, flow.Tier, now)}, nil
}

// Advance выполняет переход, соответствующий текущему состоянию документа.
func (mc Machine) Advance(main model.MainOffer, flow model.OfferFlowState, snap *catalog.Snapshot, now time.Time) (Transition, error) {
	if !Ready(main, model.MillisOf(now)) {
		return Transition{}, ErrNotReady
	}
	if main.State == model.OfferActive {
		return mc.Expire(main, flow, now)
	}
	return mc.Activate(main.PlayerID, &main, flow, snap, now)
}

func pickOffer(flow model.OfferFlowState, snap *catalog.Snapshot, now time.Time) (catalog.Offer, bool, error) {
	if flow.StarterEligible && !flow.StarterShown && !flow.StarterPurchased {
		if def, ok := snap.StarterOffer(); ok {
			return def, true, nil
		}
	}

	// Если для уровня нет предложений, спускаемся ниже.
	for tier := flow.Tier; tier >= MinTier; tier-- {
		offers := snap.LadderOffers(tier)
		if len(offers) == 0 {
			continue
		}
		day := now.Unix() / 86400
		return offers[int(day%int64(len(offers)))], false, nil
	}

	return catalog.Offer{}, false, fmt.Errorf("%w: %d", ErrNoOfferForTier, flow.Tier)
}

// FlowFor возвращает состояние лестницы игрока или создаёт его. Если у игрока
// уже было основное предложение, стартовое не показывается, а уровень берётся из него.
func FlowFor(flow *model.OfferFlowState, main *model.MainOffer, playerID string, now time.Time) model.OfferFlowState {
	if flow != nil {
		return *flow
	}
	f := NewFlow(playerID, now)
	if main != nil {
		f.Tier = ClampTier(main.Tier)
		f.StarterEligible = false
	}
	return f
}
