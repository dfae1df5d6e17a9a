package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
)

// Identity is what a verified token says about its bearer.
type Identity struct {
	UserID string
	Role   string
}

type Verifier struct {
	key    interface{}
	method string
}

func NewHS256(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Verifier{key: []byte(secret), method: jwt.SigningMethodHS256.Alg()}, nil
}

func NewRS256(pub *rsa.PublicKey) *Verifier {
	return &Verifier{key: pub, method: jwt.SigningMethodRS256.Alg()}
}

// NewRS256FromFile reads a PEM encoded PKIX public key.
func NewRS256FromFile(path string) (*Verifier, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("failed to decode public key")
	}
	pubIfc, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := pubIfc.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not rsa public key")
	}
	return NewRS256(pub), nil
}

// Verify checks the signature and expiry and extracts the user id from userId, sub or user_id.
func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, apperr.ErrUnauthenticated
	}
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.CodeUnauthenticated, "invalid token", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "invalid token")
	}
	var id Identity
	for _, k := range []string{"userId", "sub", "user_id"} {
		if s, ok := claims[k].(string); ok && s != "" {
			id.UserID = s
			break
		}
	}
	if id.UserID == "" {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "token has no subject")
	}
	id.Role, _ = claims["role"].(string)
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: missing bearer token", apperr.ErrUnauthenticated)
	}
	return strings.TrimSpace(parts[1]), nil
}
