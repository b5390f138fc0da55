package types

import (
	"time"

	"gorm.io/gorm"
)

// Order lifecycle statuses. An order enters PENDING on submission, is moved
// to CLAIMED by exactly one scheduler cycle, and ends in EXECUTED or
// CANCELLED. EXECUTED and CANCELLED are terminal.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusClaimed   = "CLAIMED"
	OrderStatusExecuted  = "EXECUTED"
	OrderStatusCancelled = "CANCELLED"
)

const (
	TransactionTypeBuy  = "BUY"
	TransactionTypeSell = "SELL"
)

// User holds authentication identity. Cash and positions live in Account
// and Holding, keyed by UserID.
type User struct {
	gorm.Model   `json:"-"`
	UserID       string    `gorm:"uniqueIndex" json:"user_id"`
	Email        string    `gorm:"uniqueIndex" json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Asset is a tradable simulated instrument. AssetID is the external quote
// provider identifier (e.g. "bitcoin"), Symbol the display ticker.
type Asset struct {
	gorm.Model `json:"-"`
	AssetID    string `gorm:"uniqueIndex" json:"asset_id"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
}

// Account is the per-user cash balance. Balance never goes negative: every
// debit is a conditional update that only applies when funds cover it.
type Account struct {
	gorm.Model `json:"-"`
	UserID     string    `gorm:"uniqueIndex" json:"user_id"`
	Balance    float64   `json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Holding is the position of one user in one asset. At most one row exists
// per (user, asset) pair; a position that reaches zero is deleted rather
// than kept at zero quantity. Holdings are deleted for real, not
// soft-deleted, so the row does not carry gorm.Model.
type Holding struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	UserID    string    `gorm:"uniqueIndex:idx_holdings_user_asset" json:"user_id"`
	AssetID   string    `gorm:"uniqueIndex:idx_holdings_user_asset" json:"asset_id"`
	Quantity  float64   `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Order is a standing conditional buy: purchase Amount of AssetID as soon
// as the observed price is at or below TargetPrice. ClaimedAt is set while
// a scheduler cycle holds the order and cleared when the claim is released.
type Order struct {
	gorm.Model    `json:"-"`
	OrderID       string     `gorm:"uniqueIndex" json:"order_id"`
	UserID        string     `gorm:"index" json:"user_id"`
	AssetID       string     `json:"asset_id"`
	TargetPrice   float64    `json:"target_price"`
	Amount        float64    `json:"amount"`
	Status        string     `gorm:"index" json:"status"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	ExecutedPrice float64    `json:"executed_price,omitempty"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Transaction is the append-only trade ledger. Every committed trade writes
// exactly one row; rows are never updated or deleted. OrderID is set when
// the trade was triggered by an auto order, empty for direct trades.
type Transaction struct {
	gorm.Model `json:"-"`
	TxID       string    `gorm:"uniqueIndex" json:"tx_id"`
	UserID     string    `gorm:"index" json:"user_id"`
	AssetID    string    `json:"asset_id"`
	OrderID    string    `gorm:"index" json:"order_id,omitempty"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
}

// PriceQuote is one observed spot price for an asset. Rows are append-only;
// the latest row per asset is the price the engine trades at.
type PriceQuote struct {
	gorm.Model `json:"-"`
	AssetID    string    `gorm:"index" json:"asset_id"`
	Price      float64   `json:"price"`
	FetchedAt  time.Time `gorm:"index" json:"fetched_at"`
}
