package risk

// StaticCorrelations serves a fixed pairwise correlation matrix, usually
// loaded from configuration. Missing pairs read as uncorrelated.
type StaticCorrelations map[string]map[string]float64

func (s StaticCorrelations) Correlations(symbol string, holdings []string) (map[string]float64, error) {
	row := s[symbol]
	out := map[string]float64{}
	for _, held := range holdings {
		if held == symbol {
			continue
		}
		if c, ok := row[held]; ok {
			out[held] = c
			continue
		}
		// The matrix may only carry one triangle.
		if c, ok := s[held][symbol]; ok {
			out[held] = c
		}
	}
	return out, nil
}

// StaticVIX is a fixed volatility reading for tests and dry runs.
type StaticVIX float64

func (s StaticVIX) Level() (float64, error) { return float64(s), nil }
