package race

import (
	"math"
)

const (
	eloSpread      = 700.0
	distanceTau    = 600.0
	minWeight      = 0.2
	perPairClip    = 8.0
	clampDelta     = 40
	softCeiling    = 7000.0
	softCeilingLam = 1.0 / 2000.0
)

type kBand struct {
	bound float64
	k     float64
}

// kBands задаёт коэффициент K по полосам трофеев: в начале игры качели больше.
var kBands = []kBand{
	{2000, 48},
	{4000, 40},
	{6000, 32},
	{7000, 24},
	{8000, 12},
	{9000, 10},
	{10000, 8},
	{math.Inf(1), 6},
}

func baseK(r float64) float64 {
	for _, b := range kBands {
		if r < b.bound {
			return b.k
		}
	}
	return kBands[len(kBands)-1].k
}

func damping(r float64) float64 {
	return math.Exp(-softCeilingLam * math.Max(0, r-softCeiling))
}

func expected(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/eloSpread))
}

// lobby: предрасчёт для игрока i на старте заезда.
type lobby struct {
	k, h float64
	w    []float64
	e    []float64
}

func precompute(i int, ratings []int) lobby {
	n := len(ratings)
	ri := float64(ratings[i])

	raw := make([]float64, n)
	total := 0.0
	for j := range ratings {
		if j == i {
			continue
		}
		w := math.Exp(-math.Abs(float64(ratings[j])-ri) / distanceTau)
		if w < minWeight {
			w = minWeight
		}
		raw[j] = w
		total += w
	}

	l := lobby{
		k: baseK(ri),
		h: damping(ri),
		w: make([]float64, n),
		e: make([]float64, n),
	}
	for j := range ratings {
		if j == i {
			continue
		}
		if total > 0 {
			l.w[j] = raw[j] / total
		} else {
			l.w[j] = 1 / float64(n-1)
		}
		l.e[j] = expected(ri, float64(ratings[j]))
	}
	return l
}

// avgExpected: взвешенное ожидание победы игрока над лобби (около 0.5 для равного лобби).
func (l lobby) avgExpected(i int) float64 {
	avg := 0.0
	for j := range l.e {
		if j != i {
			avg += l.w[j] * l.e[j]
		}
	}
	return avg
}

// TrophyDelta считает изменение трофеев игрока i по порядку финиша.
// Если i нет в finishOrder, игроки из первых placeIndex позиций считаются финишировавшими раньше.
func TrophyDelta(i int, finishOrder, ratings []int, placeIndex int) int {
	l := precompute(i, ratings)

	pos := placeIndex
	for idx, p := range finishOrder {
		if p == i {
			pos = idx
			break
		}
	}
	if pos > len(finishOrder) {
		pos = len(finishOrder)
	}
	before := make(map[int]struct{}, pos)
	for _, p := range finishOrder[:pos] {
		before[p] = struct{}{}
	}

	total := 0.0
	for j := range ratings {
		if j == i {
			continue
		}
		s := 1.0
		if _, ok := before[j]; ok {
			s = 0
		}
		d := l.k * l.h * l.w[j] * (s - l.e[j])
		total += math.Max(-perPairClip, math.Min(perPairClip, d))
	}

	delta := int(math.RoundToEven(total))
	if delta < -clampDelta {
		delta = -clampDelta
	}
	if delta > clampDelta {
		delta = clampDelta
	}
	return delta
}

// LastPlaceDelta: изменение трофеев, если игрок придёт последним.
// Списывается на старте, чтобы выход из заезда не спасал от потери.
func LastPlaceDelta(i int, ratings []int) int {
	order := make([]int, 0, len(ratings))
	for j := range ratings {
		if j != i {
			order = append(order, j)
		}
	}
	order = append(order, i)
	return TrophyDelta(i, order, ratings, len(order)-1)
}
