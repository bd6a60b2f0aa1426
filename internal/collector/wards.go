package collector

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/jandrishti/aqi-backend/internal/logging"
)

//go:embed wards.json
var defaultWards []byte

// Wards returns the monitored wards. The list is loaded once from the
// durable store, falling back to the static list when the store fails or
// has no active wards, and kept until InvalidateWards.
func (c *Collector) Wards(ctx context.Context) []Ward {
	if w := c.wards.Load(); w != nil {
		return *w
	}

	c.wardsMu.Lock()
	defer c.wardsMu.Unlock()

	if w := c.wards.Load(); w != nil {
		return *w
	}

	wards, err := c.loadWards(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("failed to load ward list")
		return nil
	}
	c.wards.Store(&wards)
	return wards
}

// InvalidateWards drops the cached ward list so the next call reloads it.
func (c *Collector) InvalidateWards() {
	c.wards.Store(nil)
}

func (c *Collector) loadWards(ctx context.Context) ([]Ward, error) {
	if c.store != nil {
		rows, err := c.store.ActiveWards(ctx)
		switch {
		case err != nil:
			logging.Warn().Err(err).Msg("could not load wards from database, using static list")
		case len(rows) == 0:
			logging.Warn().Msg("no active wards in database, using static list")
		default:
			wards := make([]Ward, 0, len(rows))
			for _, r := range rows {
				wards = append(wards, Ward{
					Name:      r.WardName,
					WardNo:    r.WardNo,
					Quadrant:  r.Quadrant,
					Latitude:  r.Latitude,
					Longitude: r.Longitude,
				})
			}
			logging.Info().Int("count", len(wards)).Msg("loaded wards from database")
			return wards, nil
		}
	}

	return StaticWards(c.cfg.WardsFile)
}

// StaticWards reads the ward list from path, or the built-in list when path is empty.
func StaticWards(path string) ([]Ward, error) {
	data := defaultWards
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read wards file: %w", err)
		}
	}

	var wards []Ward
	if err := json.Unmarshal(data, &wards); err != nil {
		return nil, fmt.Errorf("decode wards: %w", err)
	}
	if len(wards) == 0 {
		return nil, fmt.Errorf("ward list is empty")
	}
	return wards, nil
}
