package gridcore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// AnchorRecord is the persisted shape of one strategy's grid anchor.
type AnchorRecord struct {
	AnchorPrice decimal.Decimal `json:"anchor_price"`
	GridStep    decimal.Decimal `json:"grid_step"`
	GridCount   int             `json:"grid_count"`
}

// AnchorStore persists and restores a grid's anchor price across process
// restarts, keyed by strat_id. A single JSON file holds every strategy's
// record; writes are whole-file rewrites guarded by an in-process mutex,
// which is sufficient because exactly one process owns a given strat_id's
// grid at a time (unlike the risk-limit cache, which is genuinely
// multi-process).
type AnchorStore struct {
	path string
	mu   sync.Mutex
}

// NewAnchorStore returns a store backed by the JSON file at path. The file
// is created lazily on first Save.
func NewAnchorStore(path string) *AnchorStore {
	return &AnchorStore{path: path}
}

func (s *AnchorStore) readAll() (map[string]AnchorRecord, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]AnchorRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gridcore: read anchor store: %w", err)
	}
	if len(data) == 0 {
		return map[string]AnchorRecord{}, nil
	}
	var records map[string]AnchorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("gridcore: decode anchor store: %w", err)
	}
	return records, nil
}

// Load returns the persisted anchor record for stratID, if any.
func (s *AnchorStore) Load(stratID string) (AnchorRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return AnchorRecord{}, false, err
	}
	rec, ok := records[stratID]
	return rec, ok, nil
}

// Save writes or overwrites the anchor record for stratID.
func (s *AnchorStore) Save(stratID string, rec AnchorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		log.Warn().Err(err).Str("strat_id", stratID).Msg("anchor store unreadable, starting fresh")
		records = map[string]AnchorRecord{}
	}
	records[stratID] = rec

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("gridcore: encode anchor store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("gridcore: write anchor store: %w", err)
	}
	return nil
}

// RestoreOrBuild loads a persisted anchor for stratID and, if present,
// rebuilds the grid around it; otherwise it builds fresh around lastClose
// and persists the new anchor.
func (g *Grid) RestoreOrBuild(store *AnchorStore, stratID string, lastClose decimal.Decimal) error {
	rec, ok, err := store.Load(stratID)
	if err != nil {
		return err
	}
	if ok {
		g.BuildGrid(rec.AnchorPrice)
		return nil
	}

	g.BuildGrid(lastClose)
	anchor, built := g.AnchorPrice()
	if !built {
		return nil
	}
	return store.Save(stratID, AnchorRecord{
		AnchorPrice: anchor,
		GridStep:    g.gridStepPct,
		GridCount:   g.gridCount,
	})
}
