package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
)

func TestGetPurchase_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/purchases/offer_t1/tok-1" {
			t.Fatalf("path = %s, want /api/purchases/offer_t1/tok-1", r.URL.Path)
		}

		resp := Purchase{ProductID: "offer_t1", Token: "tok-1", Status: StatusValid}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetPurchase(ctx, "offer_t1", "tok-1")
	if err != nil {
		t.Fatalf("GetPurchase error: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
	if res == nil || res.ProductID != "offer_t1" || res.Status != StatusValid {
		t.Fatalf("unexpected response: %+v", res)
	}

	if err := client.VerifyPurchase(ctx, "offer_t1", "tok-1"); err != nil {
		t.Fatalf("VerifyPurchase error: %v", err)
	}
}

func TestVerifyPurchase_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, code, retry, err := client.GetPurchase(ctx, "offer_t1", "tok-1")
	if err != nil {
		t.Fatalf("GetPurchase error: %v", err)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}

	err = client.VerifyPurchase(ctx, "offer_t1", "tok-1")
	if apperr.CodeOf(err) != apperr.CodeAborted {
		t.Fatalf("code = %s, want aborted", apperr.CodeOf(err))
	}
	var throttled *ThrottledError
	if !errors.As(err, &throttled) || throttled.RetryAfter != 5*time.Second {
		t.Fatalf("expected ThrottledError with 5s, got %v", err)
	}
}

func TestVerifyPurchase_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name:    "unknown token",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
			want:    ErrPurchaseUnknown,
		},
		{
			name: "consumed token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(Purchase{ProductID: "offer_t1", Token: "tok-1", Status: StatusConsumed})
			},
			want: ErrPurchaseInvalid,
		},
		{
			name: "other product",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(Purchase{ProductID: "offer_t4", Token: "tok-1", Status: StatusValid})
			},
			want: ErrPurchaseInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			err := NewClient(ts.URL).VerifyPurchase(context.Background(), "offer_t1", "tok-1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if apperr.CodeOf(err) != apperr.CodeFailedPrecondition {
				t.Fatalf("code = %s, want failed-precondition", apperr.CodeOf(err))
			}
		})
	}
}

func TestVerifyPurchase_NotConfigured(t *testing.T) {
	var c *Client
	err := c.VerifyPurchase(context.Background(), "offer_t1", "tok-1")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if apperr.CodeOf(err) != apperr.CodeInternal {
		t.Fatalf("code = %s, want internal", apperr.CodeOf(err))
	}
}
