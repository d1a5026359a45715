// Package race считает трофеи, монеты и опыт по итогам заезда.
package race

// Rank: ранг игрока и минимальное число трофеев для него.
type Rank struct {
	Threshold int
	Name      string
}

// Ranks упорядочены по возрастанию порога; пороги включительные.
var Ranks = []Rank{
	{0, "Unranked"},
	{250, "Bronze I"},
	{500, "Bronze II"},
	{750, "Bronze III"},
	{1000, "Silver I"},
	{1250, "Silver II"},
	{1500, "Silver III"},
	{1750, "Gold I"},
	{2000, "Gold II"},
	{2250, "Gold III"},
	{2500, "Platinum I"},
	{2750, "Platinum II"},
	{3000, "Platinum III"},
	{3250, "Diamond I"},
	{3500, "Diamond II"},
	{3750, "Diamond III"},
	{4000, "Master I"},
	{4250, "Master II"},
	{4500, "Master III"},
	{4750, "Champion I"},
	{5000, "Champion II"},
	{5250, "Champion III"},
	{5500, "Ascendant I"},
	{5750, "Ascendant II"},
	{6000, "Ascendant III"},
	{6250, "Hypersonic I"},
	{6500, "Hypersonic II"},
	{7000, "Hypersonic III"},
}

// RankIndex возвращает индекс ранга для количества трофеев.
// Отрицательные значения дают Unranked.
func RankIndex(trophies int) int {
	for i := len(Ranks) - 1; i >= 0; i-- {
		if trophies >= Ranks[i].Threshold {
			return i
		}
	}
	return 0
}

// RankFor возвращает название ранга.
func RankFor(trophies int) string {
	return Ranks[RankIndex(trophies)].Name
}
