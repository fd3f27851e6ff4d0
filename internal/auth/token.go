package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/congo-pay/rent_wallet/internal/ledger"
)

var (
	ErrMissingToken   = errors.New("call token is required")
	ErrInvalidToken   = errors.New("call token is invalid")
	ErrTokenExpired   = errors.New("call token is expired")
	ErrWrongOperation = errors.New("call token was issued for another operation")
	ErrReplayedToken  = errors.New("call token was already used")
	ErrArgsMismatch   = errors.New("call token was issued for other arguments")
)

// CallClaims is the payload of a call token. Subject is the caller address,
// Fn the operation the token authorizes and Args the digest of the exact
// request body it was signed for.
type CallClaims struct {
	jwt.RegisteredClaims
	Fn   string `json:"fn"`
	Args string `json:"args"`
}

// ArgsDigest is the value of the args claim for a request body: base64url
// SHA-256 of the raw bytes. An empty body has a digest too.
func ArgsDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return b64.EncodeToString(sum[:])
}

// Call is a verified call token.
type Call struct {
	Caller    ledger.Address
	Fn        string
	TokenID   string
	ExpiresAt time.Time
}

// Signer mints call tokens for one identity.
type Signer struct {
	key      ed25519.PrivateKey
	address  ledger.Address
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewSigner returns a Signer for key. Tokens are valid for ttl.
func NewSigner(key ed25519.PrivateKey, audience string, ttl time.Duration) *Signer {
	return &Signer{
		key:      key,
		address:  AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Address is the identity the signer speaks for.
func (s *Signer) Address() ledger.Address {
	return s.address
}

// Sign returns a token authorizing a single call to fn with the request
// body args.
func (s *Signer) Sign(fn string, args []byte) (string, error) {
	now := s.now().UTC()
	claims := CallClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.address.String(),
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
		Fn:   fn,
		Args: ArgsDigest(args),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign call token: %w", err)
	}
	return signed, nil
}

// Verifier checks call tokens against the key encoded in their subject.
type Verifier struct {
	Audience string
	MaxTTL   time.Duration
	Now      func() time.Time
}

// NewVerifier returns a Verifier for audience. Tokens whose lifetime exceeds
// maxTTL are rejected.
func NewVerifier(audience string, maxTTL time.Duration) *Verifier {
	return &Verifier{Audience: audience, MaxTTL: maxTTL, Now: time.Now}
}

// Verify parses token and checks it authorizes fn called with the request
// body args.
func (v *Verifier) Verify(token, fn string, args []byte) (Call, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Call{}, ErrMissingToken
	}
	now := v.Now
	if now == nil {
		now = time.Now
	}

	var claims CallClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*CallClaims)
		if !ok {
			return nil, ErrInvalidToken
		}
		return PublicKey(ledger.Address(c.Subject))
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(v.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return Call{}, mapJWTError(err)
	}

	if claims.ID == "" {
		return Call{}, fmt.Errorf("%w: jti is required", ErrInvalidToken)
	}
	if claims.IssuedAt == nil {
		return Call{}, fmt.Errorf("%w: iat is required", ErrInvalidToken)
	}
	exp := claims.ExpiresAt.Time.UTC()
	if v.MaxTTL > 0 && exp.Sub(claims.IssuedAt.Time) > v.MaxTTL {
		return Call{}, fmt.Errorf("%w: lifetime exceeds %s", ErrInvalidToken, v.MaxTTL)
	}
	if claims.Fn != fn {
		return Call{}, ErrWrongOperation
	}
	if claims.Args == "" || claims.Args != ArgsDigest(args) {
		return Call{}, ErrArgsMismatch
	}

	return Call{
		Caller:    ledger.Address(claims.Subject),
		Fn:        claims.Fn,
		TokenID:   claims.ID,
		ExpiresAt: exp,
	}, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, ErrInvalidAddress):
		return fmt.Errorf("%w: subject is not an address", ErrInvalidToken)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrEd25519Verification):
		return fmt.Errorf("%w: signature", ErrInvalidToken)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: audience", ErrInvalidToken)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
