package trader

import (
	"encoding/json"
	"fmt"
	"os"

	"breakout-trader-go/internal/models"
)

// LoadWatchlist reads the scanner's output file: a JSON array of pivot
// levels, one per symbol. Symbols not in the configured watchlist are
// dropped; an empty filter keeps everything.
func LoadWatchlist(path string, symbols []string) (map[string]models.PivotLevels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist file: %w", err)
	}

	var rows []models.PivotLevels
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse watchlist file: %w", err)
	}

	allowed := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		allowed[s] = struct{}{}
	}

	out := make(map[string]models.PivotLevels, len(rows))
	for _, row := range rows {
		if len(allowed) > 0 {
			if _, ok := allowed[row.Symbol]; !ok {
				continue
			}
		}
		out[row.Symbol] = row
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("watchlist file %s contained no usable symbols", path)
	}
	return out, nil
}
