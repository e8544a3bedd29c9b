package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInstrumentNotFound = errors.New("instrument not found")

// InstrumentRecord is the last known price of one tracked symbol.
type InstrumentRecord struct {
	Symbol         string    `gorm:"primaryKey;type:text"`
	ProviderSymbol string    `gorm:"type:text;not null;default:''"`
	Name           string    `gorm:"type:text;not null;default:''"`
	Price          float64   `gorm:"type:double precision;not null"`
	PriceAt        time.Time `gorm:"not null"` // time of the tick that set Price
	UpdatedAt      time.Time
}

func (InstrumentRecord) TableName() string {
	return "instruments"
}

// UpsertPrice stores price for symbol, inserting the instrument if needed.
// An older priceAt never overwrites a newer one.
func (p *PostgresClient) UpsertPrice(ctx context.Context, record *InstrumentRecord) error {
	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_symbol", "price", "price_at", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "instruments.price_at <= excluded.price_at"},
		}},
	}).Create(record)

	if tx.Error != nil {
		return fmt.Errorf("upsert price %s: %w", record.Symbol, tx.Error)
	}
	return nil
}

func (p *PostgresClient) GetInstrument(ctx context.Context, symbol string) (*InstrumentRecord, error) {
	var rec InstrumentRecord
	err := p.DB.WithContext(ctx).Where("symbol = ?", symbol).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInstrumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListInstruments returns every stored instrument ordered by symbol.
func (p *PostgresClient) ListInstruments(ctx context.Context) ([]InstrumentRecord, error) {
	var recs []InstrumentRecord
	if err := p.DB.WithContext(ctx).Order("symbol").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
