package classify

import (
	"regexp"
	"strings"

	"github.com/seenimoa/b3fetch/internal/lookup"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// Pattern assigns Type when the issuer name matches every All expression
// and at least one Any expression (an empty Any always matches).
type Pattern struct {
	Type models.InstrumentType
	All  []*regexp.Regexp
	Any  []*regexp.Regexp
}

func (p Pattern) matches(name string) bool {
	for _, re := range p.All {
		if !re.MatchString(name) {
			return false
		}
	}
	if len(p.Any) == 0 {
		return true
	}
	for _, re := range p.Any {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func words(ws ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(ws))
	for i, w := range ws {
		out[i] = regexp.MustCompile(`(?i)(^|[^\pL])` + w + `($|[^\pL])`)
	}
	return out
}

// DefaultPatterns returns the built-in name classes in match order:
// foreign-index ETF, domestic ETF, real-estate fund, unit certificate.
func DefaultPatterns() []Pattern {
	etf := words(`etf`, `ishares`, `it now`, `trend`, `fundo de [ií]ndice`, `index`)
	return []Pattern{
		{
			Type: models.ETFForeignIndex,
			Any:  etf,
			All: []*regexp.Regexp{regexp.MustCompile(`(?i)s&p|nasdaq|msci|global|world|usa|eua|china|europa|europe|` +
				`bitcoin|ethereum|cripto|crypto|treasury|emerging|acwi`)},
		},
		{Type: models.ETF, Any: etf},
		{Type: models.REIT, Any: words(`fii`, `imobili[aá]rio`, `imob`, `fdo inv imob`, `real estate`, `reit`, `fundo imob`)},
		{Type: models.Unit, Any: words(`unit`, `units`, `unt`, `certificado de dep[oó]sito`)},
	}
}

// Match returns the first pattern type that matches the short or long
// name, or StockON when none does.
func Match(patterns []Pattern, names lookup.QuoteNames) models.InstrumentType {
	name := strings.TrimSpace(names.ShortName + " " + names.LongName)
	for _, p := range patterns {
		if p.matches(name) {
			return p.Type
		}
	}
	return models.StockON
}
