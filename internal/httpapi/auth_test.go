package httpapi

import (
	"strings"
	"testing"
	"time"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSignOnRequiresSalespersonID(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "")
	if _, _, err := auth.SignOn(SignOnRequest{}); err == nil {
		t.Fatalf("empty salesperson id accepted")
	}
}

func TestSignOnDefaultsToSalesRole(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "")
	resp, actor, err := auth.SignOn(SignOnRequest{SalespersonID: "sp-1"})
	if err != nil {
		t.Fatalf("sign on: %v", err)
	}
	if resp.Role != domain.RoleSales || actor.Role != domain.RoleSales {
		t.Fatalf("expected sales role, got %q", resp.Role)
	}
	if resp.AccessToken == "" {
		t.Fatalf("no token issued")
	}
}

func TestSignOnManagerRequiresPIN(t *testing.T) {
	hash, err := HashPIN("4321")
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	auth := NewAuthManager(testSecret, time.Hour, hash)

	if _, _, err := auth.SignOn(SignOnRequest{SalespersonID: "mgr-1", Role: domain.RoleManager}); err == nil {
		t.Fatalf("manager sign-on without pin accepted")
	}
	if _, _, err := auth.SignOn(SignOnRequest{SalespersonID: "mgr-1", Role: domain.RoleManager, ManagerPIN: "0000"}); err == nil {
		t.Fatalf("manager sign-on with wrong pin accepted")
	}

	resp, actor, err := auth.SignOn(SignOnRequest{SalespersonID: "mgr-1", Role: domain.RoleManager, ManagerPIN: "4321"})
	if err != nil {
		t.Fatalf("manager sign-on: %v", err)
	}
	if resp.Role != domain.RoleManager || !actor.Manager() {
		t.Fatalf("manager role not granted: %+v", actor)
	}
}

func TestSignOnRejectsUnknownRole(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "")
	if _, _, err := auth.SignOn(SignOnRequest{SalespersonID: "sp-1", Role: "admin"}); err == nil {
		t.Fatalf("unknown role accepted")
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "")
	resp, _, err := auth.SignOn(SignOnRequest{SalespersonID: "sp-7"})
	if err != nil {
		t.Fatalf("sign on: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.SalespersonID != "sp-7" || actor.Role != domain.RoleSales {
		t.Fatalf("wrong actor from token: %+v", actor)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "")
	resp, _, err := auth.SignOn(SignOnRequest{SalespersonID: "sp-1"})
	if err != nil {
		t.Fatalf("sign on: %v", err)
	}

	tampered := resp.AccessToken[:len(resp.AccessToken)-2] + "xx"
	if _, err := auth.ParseToken(tampered); err == nil {
		t.Fatalf("tampered token accepted")
	}

	other := NewAuthManager(strings.Repeat("x", 32), time.Hour, "")
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("token signed with a different secret accepted")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "")
	token, err := auth.sign("sp-1", domain.RoleSales, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestValidateManagerPINDisabledWithoutHash(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, "")
	if auth.ValidateManagerPIN("anything") {
		t.Fatalf("pin validated with no configured hash")
	}
	if auth.ValidateManagerPIN("") {
		t.Fatalf("empty pin validated")
	}
}

func TestIsBcryptHash(t *testing.T) {
	if isBcryptHash("plaintext") {
		t.Fatalf("plaintext treated as bcrypt hash")
	}
	hash, err := HashPIN("1234")
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	if !isBcryptHash(hash) {
		t.Fatalf("generated hash not recognized")
	}
}
