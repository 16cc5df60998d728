package httpinterface

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
)

const operatorSubject = "operator"

// withOperatorAuth guards operator routes with an HS256 bearer token whose
// subject is "operator".
func withOperatorAuth(secret []byte, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := verifyOperatorToken(secret, r.Header.Get("Authorization")); err != nil {
			writeError(w, r, fmt.Errorf("%w: %s", errUnauthorized, err))
			return
		}
		next(w, r)
	}
}

func verifyOperatorToken(secret []byte, header string) error {
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return fmt.Errorf("missing bearer token")
	}

	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(
		raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		},
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	if claims.Subject != operatorSubject {
		return fmt.Errorf("token subject is not %s", operatorSubject)
	}
	return nil
}

// NewOperatorToken returns an HS256 operator token, expiring at the given
// unix time if not zero.
func NewOperatorToken(secret []byte, expiresAt int64) (string, error) {
	claims := jwt.StandardClaims{
		Subject:   operatorSubject,
		ExpiresAt: expiresAt,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
