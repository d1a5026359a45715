package inventory

import (
	"fmt"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/model"
)

var ErrInsufficientFunds = apperr.ResourceExhausted("insufficient funds")

// Debit списывает сумму в валюте gems или coins.
func Debit(p *model.Player, currency string, amount int64) error {
	if amount < 0 {
		return apperr.InvalidArgument("negative price")
	}
	switch currency {
	case catalog.CurrencyGems:
		if p.Gems < amount {
			return fmt.Errorf("%w: need %d gems, have %d", ErrInsufficientFunds, amount, p.Gems)
		}
		p.Gems -= amount
	case catalog.CurrencyCoins:
		if p.Coins < amount {
			return fmt.Errorf("%w: need %d coins, have %d", ErrInsufficientFunds, amount, p.Coins)
		}
		p.Coins -= amount
	default:
		return fmt.Errorf("%w: currency %q", catalog.ErrBrokenReference, currency)
	}
	return nil
}

// Credit начисляет валюту. Отрицательные суммы не допускаются.
func Credit(p *model.Player, gems, coins int64) error {
	if gems < 0 || coins < 0 {
		return apperr.InvalidArgument("negative credit")
	}
	p.Gems += gems
	p.Coins += coins
	return nil
}

// Touch проставляет отметки времени перед записью игрока.
func Touch(p *model.Player, now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}
