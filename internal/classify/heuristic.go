package classify

import (
	"github.com/seenimoa/b3fetch/pkg/models"
	"github.com/seenimoa/b3fetch/pkg/utils"
)

// suffixTypes are the numeric suffixes whose type is certain.
var suffixTypes = map[int]models.InstrumentType{
	3:  models.StockON,
	4:  models.StockPN,
	5:  models.StockPNA,
	6:  models.StockPNB,
	7:  models.StockPNC,
	8:  models.StockPND,
	31: models.BDRSponsored,
	32: models.BDRSponsored,
	33: models.BDRSponsored,
	34: models.BDRUnsponsored,
	35: models.BDRUnsponsored,
	39: models.BDRUnsponsored,
}

// Guess classifies t from its suffix alone. certain is false when the
// suffix is shared by several instrument types (11, 11B) and the returned
// type is only the most likely candidate.
func Guess(t models.TickerSymbol) (it models.InstrumentType, certain bool) {
	if !t.Valid() {
		return models.Unknown, false
	}
	n, ok := utils.SuffixNumber(t.String())
	if !ok {
		return models.Unknown, false
	}
	if it, ok := suffixTypes[n]; ok {
		return it, true
	}
	if n == 11 {
		return models.REIT, false
	}
	return models.StockON, false
}
