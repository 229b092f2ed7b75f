package tariff

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/storage"
)

// Importer applies a parsed tariff to a property's water rate.
type Importer struct {
	store storage.TenancyStore
	log   *zap.Logger
	parse func(path string) (*Tariff, error)
}

func NewImporter(st storage.TenancyStore, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{store: st, log: log, parse: ParseFile}
}

// Import parses the tariff at path and sets it as the property's rate per unit.
// New readings pick it up; existing readings keep the rate they were saved with.
func (i *Importer) Import(ctx context.Context, propertyID, path string) (*storage.Property, *Tariff, error) {
	prop, err := i.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, nil, fmt.Errorf("load property: %w", err)
	}
	if prop == nil {
		return nil, nil, fmt.Errorf("property %s: %w", propertyID, storage.ErrNotFound)
	}
	t, err := i.parse(path)
	if err != nil {
		return nil, nil, err
	}
	prop.WaterRatePerUnit = t.RatePerUnit
	prop.UpdatedAt = time.Now().UTC()
	if err := i.store.UpdateProperty(ctx, *prop); err != nil {
		return nil, nil, fmt.Errorf("update property: %w", err)
	}
	i.log.Info("water rate imported",
		zap.String("property", propertyID), zap.String("rate", t.RatePerUnit.String()),
		zap.String("unit", t.Unit), zap.String("source", t.Source))
	return prop, t, nil
}
