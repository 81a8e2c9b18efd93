package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"copyrelay/internal/models"
	"copyrelay/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims представляет JWT claims
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service управляет аутентификацией пользователей веб-интерфейса
type Service struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewService создает новый auth сервис
func NewService(jwtSecret string, tokenTTL time.Duration) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// HashSecret хеширует пароль или секрет терминала
func (s *Service) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifySecret проверяет пароль или секрет против хеша
func (s *Service) VerifySecret(hashed, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret))
}

// GenerateToken создает JWT токен
func (s *Service) GenerateToken(userID int64, username string) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.jwtSecret)
}

// ValidateToken проверяет JWT токен и возвращает claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}

		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// ProfileStore - доступ к учетным данным терминалов
type ProfileStore interface {
	GetAccountProfile(ctx context.Context, accountID string) (*models.AccountProfile, error)
}

// TerminalValidator проверяет секрет торгового терминала при
// подключении по WebSocket. Секреты хранятся только в виде bcrypt хеша.
type TerminalValidator struct {
	store  ProfileStore
	logger *slog.Logger
}

// NewTerminalValidator создает валидатор терминалов
func NewTerminalValidator(store ProfileStore, logger *slog.Logger) *TerminalValidator {
	return &TerminalValidator{store: store, logger: logger}
}

// Validate проверяет учетные данные терминала для accountID
func (v *TerminalValidator) Validate(ctx context.Context, accountID, credentials string) bool {
	profile, err := v.store.GetAccountProfile(ctx, accountID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			v.logger.Error("Failed to load account profile", slog.String("account", accountID), slog.Any("error", err))
		}

		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(profile.SecretHash), []byte(credentials)) == nil
}
