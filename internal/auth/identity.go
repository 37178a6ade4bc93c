package auth

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/suPer8Hu/career-counselor/internal/models"
	"gorm.io/gorm"
)

type Identity struct {
	UserID        uint64 `json:"user_id,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

func Anonymous() Identity { return Identity{} }

// Resolver turns a bearer token into an Identity. It has no side effects and
// fails closed: any doubt about the token or the user yields Anonymous.
type Resolver struct {
	db            *gorm.DB
	secret        string
	lookupTimeout time.Duration
}

func NewResolver(db *gorm.DB, secret string) *Resolver {
	return &Resolver{db: db, secret: secret, lookupTimeout: 2 * time.Second}
}

func (r *Resolver) Resolve(ctx context.Context, bearer string) Identity {
	token := strings.TrimSpace(bearer)
	if token == "" {
		return Anonymous()
	}

	uid, err := ParseJWT(token, r.secret)
	if err != nil {
		return Anonymous()
	}

	lctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	var u models.User
	if err := r.db.WithContext(lctx).Select("id").First(&u, uid).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[Resolve] user lookup failed uid=%d err=%v", uid, err)
		}
		return Anonymous()
	}
	return Identity{UserID: u.ID, Authenticated: true}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
