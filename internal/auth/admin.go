// Package auth issues short-lived admin tokens over a tiny HTTP surface
// that sits alongside the websocket wire protocol. It is deliberately
// separate from the chat LOGIN frame (msgId=1): that handler authenticates
// chat users against the users table, while this issues a bearer token for
// whoever holds the single configured operator password — there is no
// operator account in the users table at all.
package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Gao-Garrix/chatserver/internal/common"
)

// ErrWrongPassword is returned by IssueToken when the supplied password does
// not match the configured hash.
var ErrWrongPassword = errors.New("auth: wrong admin password")

// AdminIssuer checks a single operator password (bcrypt-hashed, supplied at
// startup via configuration) and mints HS256 JWTs on success.
type AdminIssuer struct {
	passwordHash []byte
	secret       []byte
	expiry       time.Duration
}

// NewAdminIssuer builds an issuer. passwordHash must already be a bcrypt
// hash (see HashPassword), not a plaintext password.
func NewAdminIssuer(passwordHash, secret string, expiry time.Duration) *AdminIssuer {
	return &AdminIssuer{passwordHash: []byte(passwordHash), secret: []byte(secret), expiry: expiry}
}

// HashPassword bcrypt-hashes a plaintext admin password for storage in
// configuration. Exposed so an operator can generate ADMIN_PASSWORD_HASH
// once, offline, rather than keeping a plaintext secret in the environment.
func HashPassword(plaintext string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// IssueToken checks password against the configured hash and, on success,
// returns a signed token valid for the issuer's configured expiry.
func (a *AdminIssuer) IssueToken(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", ErrWrongPassword
	}

	claims := jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(a.expiry).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

type tokenRequest struct {
	Password string `json:"password" validate:"required"`
}

// Handler returns an http.HandlerFunc suitable for mounting at
// POST /admin/token.
func (a *AdminIssuer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if errs := common.DecodeAndValidate(r, &req); errs != nil {
			common.ValidationError(w, errs)
			return
		}

		token, err := a.IssueToken(req.Password)
		if err != nil {
			common.Unauthorized(w, "wrong admin password")
			return
		}

		common.Success(w, "", map[string]string{"token": token})
	}
}
