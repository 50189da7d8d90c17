package authservice

import (
	"testing"
	"time"
)

func TestSignAndParseAccessToken(t *testing.T) {
	token, expiry, err := SignAccessToken(42, "alice", 30*time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	if token == "" {
		t.Fatalf("SignAccessToken() returned empty token")
	}
	if time.Until(expiry) <= 0 {
		t.Fatalf("expiry %v is in the past", expiry)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Fatalf("claims = %d/%s, want 42/alice", claims.UserID, claims.Username)
	}
	if claims.Type != "access" {
		t.Fatalf("claims.Type = %s, want access", claims.Type)
	}
}

func TestRefreshTokenHasRefreshType(t *testing.T) {
	token, _, err := SignRefreshToken(42, "alice", time.Hour)
	if err != nil {
		t.Fatalf("SignRefreshToken() error = %v", err)
	}
	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Type != "refresh" {
		t.Fatalf("claims.Type = %s, want refresh", claims.Type)
	}
}

func TestParseExpiredToken(t *testing.T) {
	token, _, err := SignAccessToken(42, "alice", -time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	if _, err := ParseToken(token); err == nil {
		t.Fatalf("ParseToken(expired) error = nil, want error")
	}
}

func TestParseGarbageToken(t *testing.T) {
	if _, err := ParseToken("not-a-jwt"); err == nil {
		t.Fatalf("ParseToken(garbage) error = nil, want error")
	}
}

func TestExtractBearer(t *testing.T) {
	if got := ExtractBearer("Bearer abc.def.ghi"); got != "abc.def.ghi" {
		t.Fatalf("ExtractBearer() = %q, want abc.def.ghi", got)
	}
	if got := ExtractBearer("bearer abc"); got != "abc" {
		t.Fatalf("ExtractBearer(lowercase) = %q, want abc", got)
	}
	if got := ExtractBearer(""); got != "" {
		t.Fatalf("ExtractBearer(empty) = %q, want empty", got)
	}
	if got := ExtractBearer("Basic abc"); got != "" {
		t.Fatalf("ExtractBearer(basic) = %q, want empty", got)
	}
}
