package regime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSource reads macro indicators from a JSON file on every refresh. An
// external job keeps the file current; the provider's staleness fallback
// covers the case where it stops.
type FileSource struct {
	Path string
}

func (f FileSource) Indicators(ctx context.Context) (Indicators, error) {
	var ind Indicators
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return ind, fmt.Errorf("read indicators: %w", err)
	}
	if err := json.Unmarshal(b, &ind); err != nil {
		return ind, fmt.Errorf("parse indicators: %w", err)
	}
	return ind, nil
}
