package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coinfolio/coinfolio-api/internal/database"
	"github.com/coinfolio/coinfolio-api/internal/portfolio"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return NewService(db, "test-secret", 500000), db
}

func TestRegisterCreatesFundedAccount(t *testing.T) {
	service, db := newTestService(t)

	user, err := service.Register(Credentials{Email: "Alice@Example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.UserID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "correct-horse", user.PasswordHash, "password must not be stored in clear")

	account, err := portfolio.NewService(db).GetAccount(user.UserID)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, 500000.0, account.Balance)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register(Credentials{Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = service.Register(Credentials{Email: "ALICE@example.com", Password: "other-password"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestGetUser(t *testing.T) {
	service, _ := newTestService(t)

	registered, err := service.Register(Credentials{Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	user, err := service.GetUser(registered.UserID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice@example.com", user.Email)

	user, err = service.GetUser("USR_nonexistent")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestLoginIssuesValidToken(t *testing.T) {
	service, _ := newTestService(t)

	user, err := service.Register(Credentials{Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	token, err := service.Login(Credentials{Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, user.UserID, claims.UserID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register(Credentials{Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = service.Login(Credentials{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login(Credentials{Email: "nobody@example.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Register(Credentials{Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	token, err := service.Login(Credentials{Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	otherDB, err := database.NewDatabase(filepath.Join(t.TempDir(), "other.db"))
	require.NoError(t, err)
	otherService := NewService(otherDB, "different-secret", 500000)

	_, err = otherService.ValidateToken(token.Token)
	assert.Error(t, err)
}
