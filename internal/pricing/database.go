package pricing

import (
	"errors"

	"github.com/coinfolio/coinfolio-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetAssets() ([]types.Asset, error) {
	var assets []types.Asset
	if err := d.db.Order("asset_id").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

func (d *Database) GetAsset(assetID string) (*types.Asset, error) {
	var asset types.Asset
	if err := d.db.Where("asset_id = ?", assetID).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &asset, nil
}

// SeedAssets inserts the given assets if the registry is empty. Used at
// startup so a fresh database starts with a tradable universe.
func (d *Database) SeedAssets(assets []types.Asset) error {
	var count int64
	if err := d.db.Model(&types.Asset{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return d.db.Create(&assets).Error
}

func (d *Database) InsertQuote(quote *types.PriceQuote) error {
	return d.db.Create(quote).Error
}

func (d *Database) InsertQuotes(quotes []types.PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}
	return d.db.Create(&quotes).Error
}

// LatestQuote returns the most recent stored quote for one asset, or nil
// when no quote has ever been stored.
func (d *Database) LatestQuote(assetID string) (*types.PriceQuote, error) {
	var quote types.PriceQuote
	if err := d.db.Where("asset_id = ?", assetID).
		Order("fetched_at DESC").
		First(&quote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &quote, nil
}

// LatestQuotes returns the most recent stored quote per asset. Assets with
// no stored quote are absent from the result.
func (d *Database) LatestQuotes(assetIDs []string) (map[string]types.PriceQuote, error) {
	if len(assetIDs) == 0 {
		return map[string]types.PriceQuote{}, nil
	}

	var quotes []types.PriceQuote
	if err := d.db.Where("asset_id IN ?", assetIDs).
		Order("fetched_at DESC").
		Find(&quotes).Error; err != nil {
		return nil, err
	}

	latest := make(map[string]types.PriceQuote, len(assetIDs))
	for _, quote := range quotes {
		if _, ok := latest[quote.AssetID]; !ok {
			latest[quote.AssetID] = quote
		}
	}
	return latest, nil
}
