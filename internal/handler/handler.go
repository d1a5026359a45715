// Package handler содержит HTTP-обработчики вызываемых операций экономики.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/middleware"
	"github.com/mmeshcher/race-economy/internal/service"
	"github.com/mmeshcher/race-economy/internal/txn"
)

const (
	maxBodyBytes = 1 << 20

	// ReplayedHeader выставляется, когда ответ взят из сохранённой квитанции.
	ReplayedHeader = "Idempotent-Replayed"
)

var errMalformedBody = apperr.InvalidArgument("malformed request body")

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	OpenCrate(ctx context.Context, playerID, opID, crateID string) (txn.Result[service.OpenCrateResult], error)
	PurchaseShopSku(ctx context.Context, playerID, opID, skuID string, quantity int64) (txn.Result[service.ShopPurchaseResult], error)
	PurchaseOffer(ctx context.Context, playerID, opID, offerID string, isIAP bool, purchaseToken string) (txn.Result[service.OfferPurchaseResult], error)
	ActivateBooster(ctx context.Context, playerID, opID, boosterID string) (txn.Result[service.BoosterResult], error)
	TriggerFlashOffer(ctx context.Context, playerID, opID, trigger string) (txn.Result[service.SpecialOfferResult], error)
	StartRace(ctx context.Context, playerID, opID, raceID string, playerIndex int, ratings []int) (txn.Result[service.StartRaceResult], error)
	FinishRace(ctx context.Context, playerID, opID, raceID string, finishOrder []int) (txn.Result[service.FinishRaceResult], error)
	Inventory(ctx context.Context, playerID string) (service.InventoryView, error)
	Offers(ctx context.Context, playerID string) (service.OffersView, error)
}

// Handler реализует HTTP-обработчики API экономики.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
	health         func(ctx context.Context) error
	corsOrigins    []string
}

// Option настраивает Handler.
type Option func(*Handler)

// WithMetrics публикует обработчик метрик на /metrics.
func WithMetrics(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithHealthCheck задаёт проверку зависимостей для /healthz.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(h *Handler) { h.health = fn }
}

// WithCORS разрешает запросы с указанных источников.
func WithCORS(origins []string) Option {
	return func(h *Handler) { h.corsOrigins = origins }
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts ...Option) *Handler {
	h := &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type openCrateRequest struct {
	OpID    string `json:"opId"`
	CrateID string `json:"crateId"`
}

// OpenCrate открывает ящик.
func (h *Handler) OpenCrate(w http.ResponseWriter, r *http.Request) {
	playerID, req, ok := decode[openCrateRequest](h, w, r)
	if !ok {
		return
	}
	res, err := h.service.OpenCrate(r.Context(), playerID, req.OpID, req.CrateID)
	writeResult(h, w, r, res, err)
}

type purchaseShopSkuRequest struct {
	OpID     string `json:"opId"`
	SkuID    string `json:"skuId"`
	Quantity *int64 `json:"quantity"`
}

// PurchaseShopSku покупает SKU за гемы. Количество по умолчанию 1.
func (h *Handler) PurchaseShopSku(w http.ResponseWriter, r *http.Request) {
	playerID, req, ok := decode[purchaseShopSkuRequest](h, w, r)
	if !ok {
		return
	}
	qty := int64(1)
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	res, err := h.service.PurchaseShopSku(r.Context(), playerID, req.OpID, req.SkuID, qty)
	writeResult(h, w, r, res, err)
}

type purchaseOfferRequest struct {
	OpID          string `json:"opId"`
	OfferID       string `json:"offerId"`
	IsIAPPurchase bool   `json:"isIapPurchase"`
	PurchaseToken string `json:"purchaseToken"`
}

// PurchaseOffer покупает основное или специальное предложение.
func (h *Handler) PurchaseOffer(w http.ResponseWriter, r *http.Request) {
	playerID, req, ok := decode[purchaseOfferRequest](h, w, r)
	if !ok {
		return
	}
	res, err := h.service.PurchaseOffer(r.Context(), playerID, req.OpID, req.OfferID, req.IsIAPPurchase, req.PurchaseToken)
	writeResult(h, w, r, res, err)
}

type activateBoosterRequest struct {
	OpID      string `json:"opId"`
	BoosterID string `json:"boosterId"`
}

// ActivateBooster активирует бустер.
func (h *Handler) ActivateBooster(w http.ResponseWriter, r *http.Request) {
	playerID, req, ok := decode[activateBoosterRequest](h, w, r)
	if !ok {
		return
	}
	res, err := h.service.ActivateBooster(r.Context(), playerID, req.OpID, req.BoosterID)
	writeResult(h, w, r, res, err)
}

type triggerFlashOfferRequest struct {
	OpID        string `json:"opId"`
	TriggerType string `json:"triggerType"`
}

// TriggerFlashOffer показывает срочное предложение.
func (h *Handler) TriggerFlashOffer(w http.ResponseWriter, r *http.Request) {
	playerID, req, ok := decode[triggerFlashOfferRequest](h, w, r)
	if !ok {
		return
	}
	res, err := h.service.TriggerFlashOffer(r.Context(), playerID, req.OpID, req.TriggerType)
	writeResult(h, w, r, res, err)
}

type startRaceRequest struct {
	OpID        string `json:"opId"`
	RaceID      string `json:"raceId"`
	PlayerIndex int    `json:"playerIndex"`
	Ratings     []int  `json:"ratings"`
}

// StartRace начинает заезд.
func (h *Handler) StartRace(w http.ResponseWriter, r *http.Request) {
	playerID, req, ok := decode[startRaceRequest](h, w, r)
	if !ok {
		return
	}
	res, err := h.service.StartRace(r.Context(), playerID, req.OpID, req.RaceID, req.PlayerIndex, req.Ratings)
	writeResult(h, w, r, res, err)
}

type finishRaceRequest struct {
	OpID        string `json:"opId"`
	RaceID      string `json:"raceId"`
	FinishOrder []int  `json:"finishOrder"`
}

// FinishRace завершает заезд и начисляет награды.
func (h *Handler) FinishRace(w http.ResponseWriter, r *http.Request) {
	playerID, req, ok := decode[finishRaceRequest](h, w, r)
	if !ok {
		return
	}
	res, err := h.service.FinishRace(r.Context(), playerID, req.OpID, req.RaceID, req.FinishOrder)
	writeResult(h, w, r, res, err)
}

// GetInventory возвращает кошелёк и инвентарь игрока.
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	playerID, ok := middleware.GetPlayerIDFromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthenticated)
		return
	}

	view, err := h.service.Inventory(r.Context(), playerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, view)
}

// GetOffers возвращает предложения игрока.
func (h *Handler) GetOffers(w http.ResponseWriter, r *http.Request) {
	playerID, ok := middleware.GetPlayerIDFromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthenticated)
		return
	}

	view, err := h.service.Offers(r.Context(), playerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, view)
}

// Health отвечает 200, если зависимости доступны.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	h.writeJSON(w, map[string]string{"status": "ok"})
}

func decode[T any](h *Handler, w http.ResponseWriter, r *http.Request) (string, T, bool) {
	var req T
	playerID, ok := middleware.GetPlayerIDFromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthenticated)
		return "", req, false
	}

	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, errMalformedBody)
		return "", req, false
	}
	return playerID, req, true
}

// writeResult отдаёт JSON квитанции как есть, поэтому повтор побайтно совпадает с первым ответом.
func writeResult[T any](h *Handler, w http.ResponseWriter, r *http.Request, res txn.Result[T], err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if res.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Raw)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal {
		h.logger.Error("request failed", zap.Error(err), zap.String("uri", r.RequestURI))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(code))
	_, _ = w.Write(apperr.ToJSON(err))
}
