package race

import (
	"math"

	"github.com/mmeshcher/race-economy/internal/apperr"
)

const (
	// MaxRacers: размер таблиц наград по местам.
	MaxRacers = 8

	coinRoundTo       = 100
	difficultyFloor   = 0.85
	difficultyCeiling = 1.15
	boosterMultiplier = 2.0

	expBaseMin = 100.0
	expBaseMax = 208.0
)

var (
	ErrInvalidLobby       = apperr.InvalidArgument("lobby must have between 2 and %d racers", MaxRacers)
	ErrInvalidPlayerIndex = apperr.InvalidArgument("player index out of lobby range")
	ErrInvalidFinishOrder = apperr.InvalidArgument("finish order must list distinct lobby indices")
)

// coinCaps: максимум монет по рангу (индекс Ranks) и месту.
var coinCaps = [][MaxRacers]int{
	{2000, 1500, 1200, 900, 900, 900, 900, 900},
	{2200, 1650, 1300, 1000, 1000, 1000, 1000, 1000},
	{2500, 1900, 1500, 1100, 1100, 1100, 1100, 1100},
	{2800, 2100, 1700, 1300, 1300, 1300, 1300, 1300},
	{3100, 2300, 1900, 1400, 1400, 1400, 1400, 1400},
	{3500, 2600, 2100, 1600, 1600, 1600, 1600, 1600},
	{3900, 2900, 2300, 1800, 1800, 1800, 1800, 1800},
	{4300, 3200, 2600, 1900, 1900, 1900, 1900, 1900},
	{4800, 3600, 2900, 2200, 2200, 2200, 2200, 2200},
	{5400, 4100, 3200, 2400, 2400, 2400, 2400, 2400},
	{6000, 4500, 3600, 2700, 2700, 2700, 2700, 2700},
	{6700, 5000, 4000, 3000, 3000, 3000, 3000, 3000},
	{7500, 5600, 4500, 3400, 3400, 3400, 3400, 3400},
	{8400, 6300, 5000, 3800, 3800, 3800, 3800, 3800},
	{9400, 7100, 5600, 4200, 4200, 4200, 4200, 4200},
	{10500, 7900, 6300, 4700, 4700, 4700, 4700, 4700},
	{11800, 8900, 7100, 5300, 5300, 5300, 5300, 5300},
	{13200, 9900, 7900, 5900, 5900, 5900, 5900, 5900},
	{14800, 11100, 8900, 6600, 6600, 6600, 6600, 6600},
	{16600, 12400, 10000, 7500, 7500, 7500, 7500, 7500},
	{18600, 14000, 11200, 8400, 8400, 8400, 8400, 8400},
	{20900, 15700, 12500, 9400, 9400, 9400, 9400, 9400},
	{23400, 17600, 14000, 10500, 10500, 10500, 10500, 10500},
	{26200, 19700, 15700, 11800, 11800, 11800, 11800, 11800},
	{29400, 22100, 17600, 13200, 13200, 13200, 13200, 13200},
	{32900, 24700, 19700, 14800, 14800, 14800, 14800, 14800},
	{36900, 27700, 22100, 16600, 16600, 16600, 16600, 16600},
	{41300, 31000, 24800, 18600, 18600, 18600, 18600, 18600},
}

var expPlaceMults = [MaxRacers]float64{1.20, 1.142857, 1.085714, 1.028571, 0.971429, 0.914286, 0.857143, 0.80}

// expCaps строится из базы 100..208 по рангам и множителей мест 1.20..0.80.
var expCaps = buildExpCaps()

func buildExpCaps() [][MaxRacers]int {
	caps := make([][MaxRacers]int, len(Ranks))
	steps := float64(len(Ranks) - 1)
	for idx := range Ranks {
		base := expBaseMin + (expBaseMax-expBaseMin)*float64(idx)/steps
		for k, m := range expPlaceMults {
			caps[idx][k] = int(math.RoundToEven(base * m))
		}
	}
	return caps
}

// difficultyMultiplier переводит среднее ожидание победы в [0.85, 1.15]:
// трудное лобби даёт больше монет, лёгкое меньше.
func difficultyMultiplier(avgE float64) float64 {
	x := math.Max(-0.5, math.Min(0.5, 0.5-avgE)) / 0.5
	if x >= 0 {
		return 1 + x*(difficultyCeiling-1)
	}
	return 1 + x*(1-difficultyFloor)
}

// Coins: монеты за место place (1..8) для ранга rankIdx.
func Coins(rankIdx, place int, avgE float64, booster bool) int {
	raw := float64(coinCaps[rankIdx][place-1]) * difficultyMultiplier(avgE)
	if booster {
		raw *= boosterMultiplier
	}
	coins := int(math.RoundToEven(raw/coinRoundTo)) * coinRoundTo
	if coins < 0 {
		return 0
	}
	return coins
}

// Exp: опыт за место place (1..8) для ранга rankIdx.
func Exp(rankIdx, place int, booster bool) int {
	exp := float64(expCaps[rankIdx][place-1])
	if booster {
		exp *= boosterMultiplier
	}
	return int(math.RoundToEven(exp))
}

// Input: данные финиша. Ratings хранит снимок трофеев лобби на старте.
type Input struct {
	PlayerIndex int
	FinishOrder []int
	Ratings     []int
	CoinBooster bool
	ExpBooster  bool
	PreDeducted int
}

// Rewards: итог заезда для записи и отображения.
type Rewards struct {
	Place              int    `json:"place"`
	TrophiesActual     int    `json:"trophiesActual"`
	TrophiesSettlement int    `json:"trophiesSettlement"`
	Coins              int    `json:"coins"`
	Exp                int    `json:"exp"`
	OldRank            string `json:"oldRank"`
	NewRank            string `json:"newRank"`
	Promoted           bool   `json:"promoted"`
	Demoted            bool   `json:"demoted"`
	PreDeductedLast    int    `json:"preDeductedLast"`
}

// ValidateLobby проверяет размер лобби и индекс игрока.
func ValidateLobby(playerIndex int, ratings []int) error {
	if len(ratings) < 2 || len(ratings) > MaxRacers {
		return ErrInvalidLobby
	}
	if playerIndex < 0 || playerIndex >= len(ratings) {
		return ErrInvalidPlayerIndex
	}
	return nil
}

func validateFinishOrder(order []int, n int) error {
	seen := make(map[int]struct{}, len(order))
	for _, p := range order {
		if p < 0 || p >= n {
			return ErrInvalidFinishOrder
		}
		if _, dup := seen[p]; dup {
			return ErrInvalidFinishOrder
		}
		seen[p] = struct{}{}
	}
	return nil
}

// Compute считает трофеи с учётом предварительного списания, монеты, опыт и смену ранга.
// Игрок, не попавший в порядок финиша, считается последним.
// Награды берутся по рангу до заезда; новый ранг считается по итоговым трофеям снимка плюс actual.
func Compute(in Input) (Rewards, error) {
	if err := ValidateLobby(in.PlayerIndex, in.Ratings); err != nil {
		return Rewards{}, err
	}
	if err := validateFinishOrder(in.FinishOrder, len(in.Ratings)); err != nil {
		return Rewards{}, err
	}

	place := len(in.Ratings)
	placeIndex := len(in.FinishOrder)
	for idx, p := range in.FinishOrder {
		if p == in.PlayerIndex {
			place = idx + 1
			placeIndex = idx
			break
		}
	}

	actual := TrophyDelta(in.PlayerIndex, in.FinishOrder, in.Ratings, placeIndex)
	settlement := actual - in.PreDeducted

	oldTrophies := in.Ratings[in.PlayerIndex]
	oldIdx := RankIndex(oldTrophies)
	newIdx := RankIndex(oldTrophies + actual)

	avgE := precompute(in.PlayerIndex, in.Ratings).avgExpected(in.PlayerIndex)

	return Rewards{
		Place:              place,
		TrophiesActual:     actual,
		TrophiesSettlement: settlement,
		Coins:              Coins(oldIdx, place, avgE, in.CoinBooster),
		Exp:                Exp(oldIdx, place, in.ExpBooster),
		OldRank:            Ranks[oldIdx].Name,
		NewRank:            Ranks[newIdx].Name,
		Promoted:           newIdx > oldIdx,
		Demoted:            newIdx < oldIdx,
		PreDeductedLast:    in.PreDeducted,
	}, nil
}
