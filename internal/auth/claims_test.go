package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("scada-01", RoleOperator, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "scada-01" || claims.Role != RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Error("JTI should not be empty")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("lifetime = %v, want 1h", got)
	}
}

func TestGenerateToken_Errors(t *testing.T) {
	if _, err := GenerateToken("x", RoleViewer, "", time.Hour); !errors.Is(err, ErrNoSecret) {
		t.Errorf("empty secret error = %v, want ErrNoSecret", err)
	}
	if _, err := GenerateToken("x", Role("admin"), testSecret, time.Hour); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("unknown role error = %v, want ErrInvalidRole", err)
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, _ := GenerateToken("x", RoleViewer, testSecret, 0)
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != DefaultTokenTTL {
		t.Errorf("lifetime = %v, want %v", got, DefaultTokenTTL)
	}
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestParseToken_Rejects(t *testing.T) {
	valid, _ := GenerateToken("scada-01", RoleViewer, testSecret, time.Hour)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Minute))
	key := []byte(testSecret)

	expired := sign(t, jwt.SigningMethodHS256, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "a", ExpiresAt: past},
		Role:             RoleViewer,
	})
	noExpiry := sign(t, jwt.SigningMethodHS256, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "a"},
		Role:             RoleViewer,
	})
	hs512 := sign(t, jwt.SigningMethodHS512, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "a", ExpiresAt: future},
		Role:             RoleViewer,
	})
	noSubject := sign(t, jwt.SigningMethodHS256, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future},
		Role:             RoleViewer,
	})
	unknownRole := sign(t, jwt.SigningMethodHS256, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "a", ExpiresAt: future},
		Role:             "owner",
	})

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"garbage", "not-a-jwt", testSecret},
		{"wrong secret", valid, "another-secret-of-sufficient-length!"},
		{"expired", expired, testSecret},
		{"no expiry", noExpiry, testSecret},
		{"HS512", hs512, testSecret},
		{"missing subject", noSubject, testSecret},
		{"unknown role", unknownRole, testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}

	if _, err := ParseToken(valid, ""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("ParseToken(no secret) error = %v, want ErrNoSecret", err)
	}
}
