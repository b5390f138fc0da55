package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coinfolio/coinfolio-api/internal/database"
	"github.com/coinfolio/coinfolio-api/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func newQuoteServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientFetchPrices(t *testing.T) {
	server := newQuoteServer(t, `{"bitcoin":{"usd":50000.5},"ethereum":{"usd":2000}}`, http.StatusOK)
	client := NewClient(server.URL, 5*time.Second)

	prices, err := client.FetchPrices(context.Background(), []string{"bitcoin", "ethereum", "obscurecoin"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"bitcoin": 50000.5, "ethereum": 2000}, prices)
}

func TestClientFetchPricesEmptyRequest(t *testing.T) {
	client := NewClient("http://unused.invalid", time.Second)
	prices, err := client.FetchPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestClientFetchPricesUpstreamError(t *testing.T) {
	server := newQuoteServer(t, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	client := NewClient(server.URL, 5*time.Second)

	_, err := client.FetchPrices(context.Background(), []string{"bitcoin"})
	assert.Error(t, err)
}

func TestLatestQuotesPicksNewestPerAsset(t *testing.T) {
	db := newTestDB(t)
	store := NewDatabase(db)

	now := time.Now()
	quotes := []types.PriceQuote{
		{AssetID: "bitcoin", Price: 48000, FetchedAt: now.Add(-time.Hour)},
		{AssetID: "bitcoin", Price: 50000, FetchedAt: now},
		{AssetID: "ethereum", Price: 2000, FetchedAt: now.Add(-time.Minute)},
	}
	require.NoError(t, store.InsertQuotes(quotes))

	latest, err := store.LatestQuotes([]string{"bitcoin", "ethereum", "obscurecoin"})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, 50000.0, latest["bitcoin"].Price)
	assert.Equal(t, 2000.0, latest["ethereum"].Price)
	_, ok := latest["obscurecoin"]
	assert.False(t, ok)
}

func TestServiceGetLatestPrice(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db, NewClient("http://unused.invalid", time.Second))

	_, err := service.GetLatestPrice(context.Background(), "bitcoin")
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	require.NoError(t, NewDatabase(db).InsertQuote(&types.PriceQuote{
		AssetID:   "bitcoin",
		Price:     50000,
		FetchedAt: time.Now(),
	}))

	quote, err := service.GetLatestPrice(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, quote.Price)
}

func TestRefreshPrices(t *testing.T) {
	db := newTestDB(t)
	server := newQuoteServer(t, `{"bitcoin":{"usd":50000},"ethereum":{"usd":2000}}`, http.StatusOK)
	service := NewService(db, NewClient(server.URL, 5*time.Second))

	require.NoError(t, service.SeedAssets([]types.Asset{
		{AssetID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
		{AssetID: "ethereum", Symbol: "ETH", Name: "Ethereum"},
		{AssetID: "obscurecoin", Symbol: "OBS", Name: "Obscurecoin"},
	}))

	stored, err := service.RefreshPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	quote, err := service.GetLatestPrice(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, quote.Price)

	// The provider returned nothing for obscurecoin; it stays unquoted
	// rather than failing the refresh.
	_, err = service.GetLatestPrice(context.Background(), "obscurecoin")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestRefreshPricesNoAssets(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db, NewClient("http://unused.invalid", time.Second))

	stored, err := service.RefreshPrices(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stored)
}

func TestRecordQuote(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db, NewClient("http://unused.invalid", time.Second))
	require.NoError(t, service.SeedAssets([]types.Asset{
		{AssetID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
	}))

	quote, err := service.RecordQuote("bitcoin", 42000)
	require.NoError(t, err)
	assert.Equal(t, 42000.0, quote.Price)

	_, err = service.RecordQuote("unknowncoin", 10)
	assert.Error(t, err)

	_, err = service.RecordQuote("bitcoin", -1)
	assert.Error(t, err)
}

func TestSeedAssetsOnlyOnEmptyRegistry(t *testing.T) {
	db := newTestDB(t)
	store := NewDatabase(db)

	first := []types.Asset{{AssetID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"}}
	require.NoError(t, store.SeedAssets(first))

	// A second seed on a populated registry is a no-op.
	second := []types.Asset{
		{AssetID: "ethereum", Symbol: "ETH", Name: "Ethereum"},
	}
	require.NoError(t, store.SeedAssets(second))

	assets, err := store.GetAssets()
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "bitcoin", assets[0].AssetID)
}
