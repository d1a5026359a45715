// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	MaxIDLength = 128
	MaxQuantity = 1000
)

// IsValidID проверяет идентификатор операции, SKU, ящика или предложения:
// непустой, не длиннее MaxIDLength, только буквы, цифры и символы "-_.:".
func IsValidID(id string) bool {
	if id == "" || len(id) > MaxIDLength {
		return false
	}

	for _, ch := range id {
		if ch > unicode.MaxASCII {
			return false
		}
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			continue
		}
		switch ch {
		case '-', '_', '.', ':':
			continue
		}
		return false
	}

	return true
}

// IsValidQuantity проверяет количество в покупке.
func IsValidQuantity(q int64) bool {
	return q >= 1 && q <= MaxQuantity
}
