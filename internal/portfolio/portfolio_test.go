package portfolio

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coinfolio/coinfolio-api/internal/database"
	"github.com/coinfolio/coinfolio-api/internal/types"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return NewService(db), db
}

func TestExecuteBuy(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)

	txn, err := service.ExecuteBuy("user-1", "bitcoin", 2, 90)
	require.NoError(t, err)
	assert.Equal(t, types.TransactionTypeBuy, txn.Type)
	assert.NotEmpty(t, txn.TxID)
	assert.Empty(t, txn.OrderID)

	account, err := service.GetAccount("user-1")
	require.NoError(t, err)
	assert.Equal(t, 820.0, account.Balance)

	holdings, err := service.GetHoldings("user-1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "bitcoin", holdings[0].AssetID)
	assert.Equal(t, 2.0, holdings[0].Quantity)
}

func TestExecuteBuyAccumulatesHolding(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)

	_, err = service.ExecuteBuy("user-1", "bitcoin", 2, 90)
	require.NoError(t, err)
	_, err = service.ExecuteBuy("user-1", "bitcoin", 3, 100)
	require.NoError(t, err)

	holdings, err := service.GetHoldings("user-1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, 5.0, holdings[0].Quantity)

	account, err := service.GetAccount("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0-180-300, account.Balance)
}

func TestExecuteBuyInsufficientFunds(t *testing.T) {
	service, db := newTestService(t)

	_, err := service.CreateAccount("user-1", 50)
	require.NoError(t, err)

	_, err = service.ExecuteBuy("user-1", "bitcoin", 2, 90)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing may have been applied: no debit, no holding, no ledger row.
	account, err := service.GetAccount("user-1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, account.Balance)

	holdings, err := service.GetHoldings("user-1")
	require.NoError(t, err)
	assert.Empty(t, holdings)

	var count int64
	require.NoError(t, db.Model(&types.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestExecuteBuyValidation(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)

	tests := []struct {
		name     string
		quantity float64
		price    float64
		wantErr  error
	}{
		{name: "ZeroQuantity", quantity: 0, price: 10, wantErr: ErrInvalidQuantity},
		{name: "NegativeQuantity", quantity: -1, price: 10, wantErr: ErrInvalidQuantity},
		{name: "ZeroPrice", quantity: 1, price: 0, wantErr: ErrInvalidPrice},
		{name: "NegativePrice", quantity: 1, price: -5, wantErr: ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ExecuteBuy("user-1", "bitcoin", tt.quantity, tt.price)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExecuteBuyUnknownAccount(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.ExecuteBuy("nobody", "bitcoin", 1, 10)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestExecuteSell(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)
	_, err = service.ExecuteBuy("user-1", "bitcoin", 4, 100)
	require.NoError(t, err)

	txn, err := service.ExecuteSell("user-1", "bitcoin", 1, 150)
	require.NoError(t, err)
	assert.Equal(t, types.TransactionTypeSell, txn.Type)

	account, err := service.GetAccount("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0-400+150, account.Balance)

	holdings, err := service.GetHoldings("user-1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, 3.0, holdings[0].Quantity)
}

func TestExecuteSellRemovesEmptyHolding(t *testing.T) {
	service, db := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)
	_, err = service.ExecuteBuy("user-1", "bitcoin", 2, 100)
	require.NoError(t, err)

	_, err = service.ExecuteSell("user-1", "bitcoin", 2, 100)
	require.NoError(t, err)

	// The position reached zero, so the row must be gone, not kept at 0.
	var count int64
	require.NoError(t, db.Model(&types.Holding{}).
		Where("user_id = ? AND asset_id = ?", "user-1", "bitcoin").
		Count(&count).Error)
	assert.Zero(t, count)

	// Buying again afterwards recreates the row cleanly.
	_, err = service.ExecuteBuy("user-1", "bitcoin", 1, 100)
	require.NoError(t, err)
	holdings, err := service.GetHoldings("user-1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, 1.0, holdings[0].Quantity)
}

func TestExecuteSellInsufficientHoldings(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)
	_, err = service.ExecuteBuy("user-1", "bitcoin", 1, 100)
	require.NoError(t, err)

	_, err = service.ExecuteSell("user-1", "bitcoin", 2, 100)
	require.ErrorIs(t, err, ErrInsufficientHoldings)

	account, err := service.GetAccount("user-1")
	require.NoError(t, err)
	assert.Equal(t, 900.0, account.Balance)

	holdings, err := service.GetHoldings("user-1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, 1.0, holdings[0].Quantity)
}

func TestExecuteSellUnknownHolding(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)

	_, err = service.ExecuteSell("user-1", "ethereum", 1, 100)
	assert.ErrorIs(t, err, ErrInsufficientHoldings)
}

func TestGetHolding(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)
	_, err = service.ExecuteBuy("user-1", "bitcoin", 2, 90)
	require.NoError(t, err)

	holding, err := service.GetHolding("user-1", "bitcoin")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.Equal(t, 2.0, holding.Quantity)

	holding, err = service.GetHolding("user-1", "ethereum")
	require.NoError(t, err)
	assert.Nil(t, holding)
}

func TestLedgerRecordsEveryTrade(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)

	_, err = service.ExecuteBuy("user-1", "bitcoin", 2, 100)
	require.NoError(t, err)
	_, err = service.ExecuteSell("user-1", "bitcoin", 1, 120)
	require.NoError(t, err)
	_, err = service.ExecuteBuy("user-1", "ethereum", 1, 50)
	require.NoError(t, err)

	transactions, err := service.GetTransactions("user-1")
	require.NoError(t, err)
	require.Len(t, transactions, 3)

	// Replaying the ledger reproduces the balance exactly.
	balance := 1000.0
	for _, txn := range transactions {
		switch txn.Type {
		case types.TransactionTypeBuy:
			balance -= txn.Quantity * txn.Price
		case types.TransactionTypeSell:
			balance += txn.Quantity * txn.Price
		}
	}
	account, err := service.GetAccount("user-1")
	require.NoError(t, err)
	assert.Equal(t, balance, account.Balance)
}

func mustClaimedOrder(t *testing.T, db *gorm.DB, orderID string) *types.Order {
	t.Helper()
	now := time.Now()
	order := &types.Order{
		OrderID:   orderID,
		UserID:    "user-1",
		AssetID:   "bitcoin",
		Amount:    2,
		Status:    types.OrderStatusClaimed,
		ClaimedAt: &now,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestExecuteOrderBuySettlesOrderInOneCommit(t *testing.T) {
	service, db := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)
	order := mustClaimedOrder(t, db, "ORD_test")

	txn, err := service.ExecuteOrderBuy(order, 90)
	require.NoError(t, err)
	assert.Equal(t, "ORD_test", txn.OrderID)

	stored, err := service.GetDB().GetTransactionByOrderID("ORD_test")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, txn.TxID, stored.TxID)

	// The trade and the terminal order state commit together: there is no
	// step left to run after ExecuteOrderBuy returns.
	var settled types.Order
	require.NoError(t, db.Where("order_id = ?", "ORD_test").First(&settled).Error)
	assert.Equal(t, types.OrderStatusExecuted, settled.Status)
	assert.Equal(t, 90.0, settled.ExecutedPrice)
	assert.NotNil(t, settled.ExecutedAt)
	assert.Nil(t, settled.ClaimedAt)
}

func TestExecuteOrderBuyRollsBackWhenClaimLost(t *testing.T) {
	service, db := newTestService(t)

	_, err := service.CreateAccount("user-1", 1000)
	require.NoError(t, err)

	// An order someone reverted to pending mid-flight: the claim this
	// caller holds is gone, so the trade must not settle.
	now := time.Now()
	order := &types.Order{
		OrderID:   "ORD_reverted",
		UserID:    "user-1",
		AssetID:   "bitcoin",
		Amount:    2,
		Status:    types.OrderStatusPending,
		ClaimedAt: &now,
	}
	require.NoError(t, db.Create(order).Error)

	_, err = service.ExecuteOrderBuy(order, 90)
	require.ErrorIs(t, err, ErrOrderNotClaimed)

	// Everything rolled back: no debit, no holding, no ledger row.
	account, err := service.GetAccount("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, account.Balance)

	holdings, err := service.GetHoldings("user-1")
	require.NoError(t, err)
	assert.Empty(t, holdings)

	txn, err := service.GetDB().GetTransactionByOrderID("ORD_reverted")
	require.NoError(t, err)
	assert.Nil(t, txn)
}
