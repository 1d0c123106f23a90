package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tutor-chat/internal/models"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Service issues and verifies the tokens that carry a user's identity.
// Identity itself is owned by the marketplace's auth system; this service
// only trusts what it signed.
type Service struct {
	secret    []byte
	expiresIn time.Duration
}

func NewService(secret []byte, expiresIn time.Duration) *Service {
	return &Service{
		secret:    secret,
		expiresIn: expiresIn,
	}
}

func (s *Service) IssueToken(p models.Participant) (string, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": p.ID,
		"name":    p.Name,
		"role":    string(p.Role),
		"exp":     now.Add(s.expiresIn).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) ValidateToken(tokenString string) (*jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// Identify returns the participant a token was issued for.
func (s *Service) Identify(tokenString string) (models.Participant, error) {
	if tokenString == "" {
		return models.Participant{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return models.Participant{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	userID, _ := (*claims)["user_id"].(string)
	if userID == "" {
		return models.Participant{}, fmt.Errorf("%w: invalid user ID in token", ErrUnauthenticated)
	}
	name, _ := (*claims)["name"].(string)
	role, _ := (*claims)["role"].(string)

	return models.Participant{ID: userID, Name: name, Role: models.Role(role)}, nil
}

// TokenFromRequest reads a bearer token, falling back to the token query
// parameter used by browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

type contextKey string

const participantKey contextKey = "participant"

// Middleware rejects requests without a valid token and stores the caller's
// identity in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Identify(TokenFromRequest(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), p)))
	})
}

func WithParticipant(ctx context.Context, p models.Participant) context.Context {
	return context.WithValue(ctx, participantKey, p)
}

func ParticipantFromContext(ctx context.Context) (models.Participant, bool) {
	p, ok := ctx.Value(participantKey).(models.Participant)
	return p, ok
}
