package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
)

// verifySignatureAndClaims validates the RSA signature using the
// modulus/exponent from key, then enforces exp/nbf and the issuer,
// returning the parsed Claims. Uses golang-jwt/jwt/v5 with
// WithValidMethods pinned to RS256 — the JWKS-side alg check in
// VerifyToken has already rejected anything else, this is defense in
// depth against algorithm confusion.
//
// Issuer equality is checked manually (not via jwt.WithIssuer) because
// spec.md §3 normalizes iss by trimming a trailing slash before
// comparison; the library's WithIssuer does a literal string match
// against the unnormalized claim and would reject a token whose iss
// happens to carry a trailing slash.
func verifySignatureAndClaims(token string, key jwk, issuer string) (Claims, error) {
	publicKey, err := rsaPublicKeyFromJWK(key)
	if err != nil {
		return Claims{}, fmt.Errorf("build rsa key: %w", err)
	}

	var claims jwt.MapClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return Claims{}, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return Claims{}, fmt.Errorf("invalid token")
	}

	if normalizeIssuer(stringClaim(claims, "iss")) != issuer {
		return Claims{}, fmt.Errorf("issuer mismatch")
	}

	out := Claims{
		Sub: stringClaim(claims, "sub"),
		Iss: stringClaim(claims, "iss"),
	}
	if exp, ok := numberClaim(claims, "exp"); ok {
		out.Exp = exp
	}
	if nbf, ok := numberClaim(claims, "nbf"); ok {
		out.Nbf = &nbf
	}
	return out, nil
}

func rsaPublicKeyFromJWK(key jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func numberClaim(claims jwt.MapClaims, key string) (int64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
