package utils

import "testing"

func TestJwtRoundTrip(t *testing.T) {
	token, err := JwtGenerate(12, "farmer")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ClaimsFromToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.ID != 12 || claims.Role != "farmer" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestJwtRejectsGarbage(t *testing.T) {
	if _, err := ClaimsFromToken("not-a-token"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}
