package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

// AuthManager issues and validates the terminal's session tokens. Identity is
// asserted at sign-on by the register UI; the manager role additionally
// requires the shared manager PIN.
type AuthManager struct {
	secret         []byte
	tokenTTL       time.Duration
	managerPINHash string
}

type SignOnRequest struct {
	SalespersonID string `json:"salesperson_id"`
	Role          string `json:"role"`
	ManagerPIN    string `json:"manager_pin,omitempty"`
}

type SignOnResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPINHash string) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:         []byte(secret),
		tokenTTL:       tokenTTL,
		managerPINHash: strings.TrimSpace(managerPINHash),
	}
}

// SignOn validates the request and issues a session token. Manager sign-on is
// gated on the PIN so a sales terminal cannot self-elevate.
func (a *AuthManager) SignOn(req SignOnRequest) (SignOnResponse, domain.Actor, error) {
	salespersonID := strings.TrimSpace(req.SalespersonID)
	if salespersonID == "" {
		return SignOnResponse{}, domain.Actor{}, errors.New("salesperson id required")
	}

	role := strings.TrimSpace(req.Role)
	switch role {
	case "":
		role = domain.RoleSales
	case domain.RoleSales:
	case domain.RoleManager:
		if !a.ValidateManagerPIN(req.ManagerPIN) {
			return SignOnResponse{}, domain.Actor{}, errors.New("invalid manager pin")
		}
	default:
		return SignOnResponse{}, domain.Actor{}, fmt.Errorf("unknown role %q", role)
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(salespersonID, role, expiresAt)
	if err != nil {
		return SignOnResponse{}, domain.Actor{}, err
	}

	actor := domain.Actor{SalespersonID: salespersonID, Role: role}
	return SignOnResponse{
		AccessToken: token,
		Role:        role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, actor, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{SalespersonID: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(salespersonID, role string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   salespersonID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "terminald",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateManagerPIN checks the shared PIN against its bcrypt hash. An empty
// configured hash disables every PIN-gated action.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isBcryptHash(a.managerPINHash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPINHash), []byte(input)) == nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

// HashPIN is a provisioning helper for generating MANAGER_PIN_HASH values.
func HashPIN(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
