package portfolio

import (
	"errors"
	"time"

	"github.com/coinfolio/coinfolio-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateAccount(account *types.Account) error {
	return d.db.Create(account).Error
}

func (d *Database) GetAccount(userID string) (*types.Account, error) {
	var account types.Account
	if err := d.db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) GetHolding(userID, assetID string) (*types.Holding, error) {
	var holding types.Holding
	if err := d.db.Where("user_id = ? AND asset_id = ?", userID, assetID).First(&holding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &holding, nil
}

func (d *Database) GetHoldings(userID string) ([]types.Holding, error) {
	var holdings []types.Holding
	if err := d.db.Where("user_id = ?", userID).Order("asset_id").Find(&holdings).Error; err != nil {
		return nil, err
	}
	return holdings, nil
}

func (d *Database) GetTransactions(userID string) ([]types.Transaction, error) {
	var transactions []types.Transaction
	if err := d.db.Where("user_id = ?", userID).Order("timestamp DESC").Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

// GetTransactionByOrderID returns the transaction produced by an auto
// order, or nil if the order never traded.
func (d *Database) GetTransactionByOrderID(orderID string) (*types.Transaction, error) {
	var transaction types.Transaction
	if err := d.db.Where("order_id = ?", orderID).First(&transaction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &transaction, nil
}

// ApplyBuy commits one buy as a single transaction: debit the account,
// upsert the holding, append the ledger row. The debit is conditional on
// the balance covering the cost, so a negative balance cannot be written
// even when multiple processes trade against the same account.
//
// When the buy settles an auto order (txn.OrderID set), the order's
// CLAIMED to EXECUTED transition is part of the same commit. Either the
// trade and the terminal order state land together or neither does; a
// claimed order with a committed trade is unrepresentable, so a crash at
// any point leaves the order safe to revert and retry.
func (d *Database) ApplyBuy(txn *types.Transaction) error {
	cost := txn.Quantity * txn.Price

	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	result := tx.Model(&types.Account{}).
		Where("user_id = ? AND balance >= ?", txn.UserID, cost).
		Update("balance", gorm.Expr("balance - ?", cost))
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return d.classifyDebitFailure(txn.UserID)
	}

	result = tx.Model(&types.Holding{}).
		Where("user_id = ? AND asset_id = ?", txn.UserID, txn.AssetID).
		Update("quantity", gorm.Expr("quantity + ?", txn.Quantity))
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		holding := types.Holding{
			UserID:   txn.UserID,
			AssetID:  txn.AssetID,
			Quantity: txn.Quantity,
		}
		if err := tx.Create(&holding).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Create(txn).Error; err != nil {
		tx.Rollback()
		return err
	}

	if txn.OrderID != "" {
		now := time.Now()
		result = tx.Model(&types.Order{}).
			Where("order_id = ? AND status = ?", txn.OrderID, types.OrderStatusClaimed).
			Updates(map[string]interface{}{
				"status":         types.OrderStatusExecuted,
				"executed_price": txn.Price,
				"executed_at":    now,
				"claimed_at":     nil,
				"updated_at":     now,
			})
		if result.Error != nil {
			tx.Rollback()
			return result.Error
		}
		if result.RowsAffected == 0 {
			// The claim was taken away mid-flight. Nothing may settle
			// against it, so the whole trade rolls back.
			tx.Rollback()
			return ErrOrderNotClaimed
		}
	}

	return tx.Commit().Error
}

// ApplySell commits one sell as a single transaction: decrement the
// holding, drop it if it reached zero, credit the account, append the
// ledger row. The decrement is conditional on the holding covering the
// quantity sold.
func (d *Database) ApplySell(txn *types.Transaction) error {
	proceeds := txn.Quantity * txn.Price

	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	result := tx.Model(&types.Holding{}).
		Where("user_id = ? AND asset_id = ? AND quantity >= ?", txn.UserID, txn.AssetID, txn.Quantity).
		Update("quantity", gorm.Expr("quantity - ?", txn.Quantity))
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrInsufficientHoldings
	}

	// No zero-quantity rows persist.
	if err := tx.Where("user_id = ? AND asset_id = ? AND quantity <= 0", txn.UserID, txn.AssetID).
		Delete(&types.Holding{}).Error; err != nil {
		tx.Rollback()
		return err
	}

	result = tx.Model(&types.Account{}).
		Where("user_id = ?", txn.UserID).
		Update("balance", gorm.Expr("balance + ?", proceeds))
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrAccountNotFound
	}

	if err := tx.Create(txn).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// classifyDebitFailure distinguishes a missing account from one that
// simply cannot cover the cost, after a conditional debit touched no rows.
func (d *Database) classifyDebitFailure(userID string) error {
	var count int64
	if err := d.db.Model(&types.Account{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrAccountNotFound
	}
	return ErrInsufficientFunds
}
