// Package media issues time-boxed credentials that let a participant join a
// call's media channel at the external media provider.
package media

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTTL = 24 * time.Hour

// PrivilegePublisher is granted to both call parties: each one publishes audio/video.
const PrivilegePublisher = "publisher"

var ErrNotConfigured = errors.New("media: app id or certificate not configured")

// Grant describes whom a credential is for.
type Grant struct {
	Channel string
	UserID  string
	// Role is the call side (customer or seller).
	Role string
}

type Credential struct {
	Token     string    `json:"token"`
	UID       uint32    `json:"uid"`
	AppID     string    `json:"appId"`
	Channel   string    `json:"channelName"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Issuer interface {
	Issue(ctx context.Context, g Grant) (*Credential, error)
}

// Claims carried by a channel token.
type Claims struct {
	Channel   string `json:"channel"`
	UID       uint32 `json:"uid"`
	Role      string `json:"role"`
	Privilege string `json:"privilege"`
	jwt.RegisteredClaims
}

// JWTIssuer signs HS256 tokens with the app certificate.
type JWTIssuer struct {
	appID       string
	certificate []byte
	ttl         time.Duration
	now         func() time.Time
}

func NewJWTIssuer(appID, certificate string, ttl time.Duration) *JWTIssuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JWTIssuer{appID: appID, certificate: []byte(certificate), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (i *JWTIssuer) WithClock(now func() time.Time) *JWTIssuer {
	i.now = now
	return i
}

func (i *JWTIssuer) AppID() string { return i.appID }

func (i *JWTIssuer) Issue(_ context.Context, g Grant) (*Credential, error) {
	if i.appID == "" || len(i.certificate) == 0 {
		return nil, ErrNotConfigured
	}
	if g.Channel == "" || g.UserID == "" {
		return nil, fmt.Errorf("media: channel and user required")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	uid := UID(g.UserID)
	claims := Claims{
		Channel:   g.Channel,
		UID:       uid,
		Role:      g.Role,
		Privilege: PrivilegePublisher,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   g.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.certificate)
	if err != nil {
		return nil, fmt.Errorf("media: sign: %w", err)
	}
	return &Credential{
		Token:     token,
		UID:       uid,
		AppID:     i.appID,
		Channel:   g.Channel,
		Role:      g.Role,
		ExpiresAt: exp,
	}, nil
}

// Verify parses a token issued by this issuer and returns its claims.
func (i *JWTIssuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.certificate, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.appID),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// UID maps a user ID to the numeric ID media providers expect. Stable and never 0.
func UID(userID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	if v := h.Sum32(); v != 0 {
		return v
	}
	return 1
}
