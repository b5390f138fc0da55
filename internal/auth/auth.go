package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/coinfolio/coinfolio-api/internal/types"
	"github.com/coinfolio/coinfolio-api/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Credentials represents a registration or login request.
type Credentials struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// TokenResponse represents the JWT token response.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Service handles user registration, login, and token issuance. A new user
// gets a cash account with the configured starting balance, created in the
// same operation as the user row.
type Service struct {
	db              *Database
	jwtSecret       []byte
	startingBalance float64
}

// NewService creates a new authentication service.
func NewService(gormDB *gorm.DB, jwtSecret string, startingBalance float64) *Service {
	return &Service{
		db:              NewDatabase(gormDB),
		jwtSecret:       []byte(jwtSecret),
		startingBalance: startingBalance,
	}
}

// Register creates a new user and their funded cash account.
func (s *Service) Register(creds Credentials) (*types.User, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))

	existing, err := s.db.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &types.User{
		UserID:       "USR_" + uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	account := &types.Account{
		UserID:    user.UserID,
		Balance:   s.startingBalance,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.db.CreateUserWithAccount(user, account); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "auth").
		Str("user_id", user.UserID).
		Float64("starting_balance", s.startingBalance).
		Msg("user registered")

	return user, nil
}

// Login verifies credentials and issues a JWT valid for 24 hours.
func (s *Service) Login(creds Credentials) (*TokenResponse, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))

	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	expiration := time.Now().Add(24 * time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		UserID: user.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// GetUser retrieves a user by ID, or nil if no such user exists.
func (s *Service) GetUser(userID string) (*types.User, error) {
	return s.db.GetUser(userID)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// GinHandlers contains HTTP handlers for authentication endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterHandler handles POST requests to create a new user with a funded
// account.
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		user, err := h.service.Register(creds)
		if err != nil {
			if errors.Is(err, ErrEmailTaken) {
				response.Conflict(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, user)
	}
}

// ProfileHandler handles GET requests for the authenticated user's own
// record.
func (h *GinHandlers) ProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		user, err := h.service.GetUser(userID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if user == nil {
			response.NotFound(c, "User not found")
			return
		}

		response.Success(c, user)
	}
}

// LoginHandler handles POST requests to exchange credentials for a JWT.
func (h *GinHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.Login(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
