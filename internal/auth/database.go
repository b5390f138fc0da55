package auth

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

func (d *Database) GetUserByEmail(email string) (*types.User, error) {
	var user types.User
	if err := d.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (d *Database) GetUser(userID string) (*types.User, error) {
	var user types.User
	if err := d.db.Where("user_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateUserWithAccount creates the user and their funded cash account in
// one transaction, so a user can never exist without an account.
func (d *Database) CreateUserWithAccount(user *types.User, account *types.Account) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(user).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Create(account).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
