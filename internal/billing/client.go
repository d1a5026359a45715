// Package billing предоставляет клиент сервиса проверки покупок в магазине приложений.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
)

// Статусы покупки, возвращаемые верификатором.
const (
	StatusValid    = "VALID"
	StatusInvalid  = "INVALID"
	StatusConsumed = "CONSUMED"
)

var (
	ErrNotConfigured   = errors.New("billing client not configured")
	ErrPurchaseUnknown = apperr.FailedPrecondition("purchase token is not known to the store")
	ErrPurchaseInvalid = apperr.FailedPrecondition("purchase token is not valid")
)

// Purchase описывает ответ верификатора по одной покупке.
type Purchase struct {
	ProductID string `json:"productId"`
	Token     string `json:"token"`
	Status    string `json:"status"`
}

// ThrottledError: верификатор попросил повторить запрос позже.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("billing throttled, retry after %s", e.RetryAfter)
}

// Client инкапсулирует HTTP-взаимодействие с верификатором покупок.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для верификатора по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetPurchase запрашивает статус покупки. Возвращает код ответа и паузу из Retry-After для 429.
func (c *Client) GetPurchase(ctx context.Context, productID, token string) (*Purchase, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	u := fmt.Sprintf("%s/api/purchases/%s/%s", base, url.PathEscape(productID), url.PathEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.StatusCode, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Purchase
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return &result, resp.StatusCode, 0, nil
}

// VerifyPurchase проверяет, что токен подтверждает покупку productID.
// Ошибки переводятся в таксономию: 429 становится aborted, неизвестный
// или недействительный токен дают failed-precondition.
func (c *Client) VerifyPurchase(ctx context.Context, productID, token string) error {
	p, code, retryAfter, err := c.GetPurchase(ctx, productID, token)
	if err != nil {
		return apperr.Internal(fmt.Errorf("verify purchase: %w", err))
	}

	switch code {
	case http.StatusTooManyRequests:
		return apperr.Wrap(apperr.CodeAborted, &ThrottledError{RetryAfter: retryAfter}, "purchase verification throttled, retry later")
	case http.StatusNoContent:
		return ErrPurchaseUnknown
	}

	if p.ProductID != productID || p.Status != StatusValid {
		return ErrPurchaseInvalid
	}
	return nil
}
