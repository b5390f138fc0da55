package orders

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

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetUserOrders(userID string) ([]types.Order, error) {
	var userOrders []types.Order
	if err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&userOrders).Error; err != nil {
		return nil, err
	}
	return userOrders, nil
}

func (d *Database) GetPendingOrders() ([]types.Order, error) {
	var pending []types.Order
	if err := d.db.Where("status = ?", types.OrderStatusPending).Find(&pending).Error; err != nil {
		return nil, err
	}
	return pending, nil
}

// ClaimOrder atomically transitions an order from PENDING to CLAIMED,
// returning whether this caller won the claim. A false return means the
// order was already claimed, executed, or cancelled by someone else and
// must be left alone.
func (d *Database) ClaimOrder(orderID string) (bool, error) {
	now := time.Now()
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND status = ?", orderID, types.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     types.OrderStatusClaimed,
			"claimed_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RevertClaim atomically returns a claimed order to PENDING after a failed
// trade attempt. Conditional on the order still being CLAIMED, so it can
// never resurrect an order that reached a terminal state in the meantime.
func (d *Database) RevertClaim(orderID string) (bool, error) {
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND status = ?", orderID, types.OrderStatusClaimed).
		Updates(map[string]interface{}{
			"status":     types.OrderStatusPending,
			"claimed_at": nil,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CancelOrder atomically transitions a user's order from PENDING to
// CANCELLED. Orders in any other state are left untouched.
func (d *Database) CancelOrder(orderID, userID string) (bool, error) {
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND user_id = ? AND status = ?", orderID, userID, types.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     types.OrderStatusCancelled,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseStaleClaims reverts orders that have sat CLAIMED longer than the
// window back to PENDING. A claim that old belongs to a cycle that died
// mid-flight; without this, such orders would be stuck unreachable forever.
// Releasing is safe unconditionally: a trade commits together with the
// order's EXECUTED transition, so an order still CLAIMED has never traded.
func (d *Database) ReleaseStaleClaims(window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window)
	result := d.db.Model(&types.Order{}).
		Where("status = ? AND claimed_at < ?", types.OrderStatusClaimed, cutoff).
		Updates(map[string]interface{}{
			"status":     types.OrderStatusPending,
			"claimed_at": nil,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
