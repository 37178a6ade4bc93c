package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/models"
	"gorm.io/gorm"
)

const (
	MinPasswordLength = 8

	usernameLength   = 11
	usernameAttempts = 5
	usernameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Accounts registers users and exchanges credentials for tokens.
type Accounts struct {
	db     *gorm.DB
	secret string
	ttl    time.Duration
}

func NewAccounts(db *gorm.DB, secret string, ttl time.Duration) *Accounts {
	return &Accounts{db: db, secret: secret, ttl: ttl}
}

// Session is a signed-in user plus its bearer token.
type Session struct {
	User  models.User
	Token string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *Accounts) Register(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, common.Validation("email and password required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, common.Validation("invalid email")
	}
	if len(password) < MinPasswordLength {
		return Session{}, common.Validation(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	db := a.db.WithContext(ctx)

	var taken int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&taken).Error; err != nil {
		return Session{}, common.StorageUnavailable(err)
	}
	if taken > 0 {
		return Session{}, common.Conflict("email already registered")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, common.Internal(err)
	}
	username, err := a.freeUsername(ctx)
	if err != nil {
		return Session{}, err
	}

	u := models.User{Email: email, Username: username, PasswordHash: hash}
	if err := db.Create(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Session{}, common.Conflict("email already registered")
		}
		log.Printf("[Register] create failed email=%s err=%v", email, err)
		return Session{}, common.StorageUnavailable(err)
	}
	return a.issue(u)
}

// Login never tells an unknown email apart from a wrong password.
func (a *Accounts) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, common.Validation("email and password required")
	}

	var u models.User
	if err := a.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Session{}, common.Unauthorized("invalid email or password")
		}
		log.Printf("[Login] lookup failed email=%s err=%v", email, err)
		return Session{}, common.StorageUnavailable(err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return Session{}, common.Unauthorized("invalid email or password")
	}
	return a.issue(u)
}

func (a *Accounts) Get(ctx context.Context, id uint64) (models.User, error) {
	var u models.User
	if err := a.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, common.Unauthorized("unauthorized")
		}
		return models.User{}, common.StorageUnavailable(err)
	}
	return u, nil
}

func (a *Accounts) issue(u models.User) (Session, error) {
	token, err := SignJWT(u.ID, a.secret, a.ttl)
	if err != nil {
		return Session{}, common.Internal(err)
	}
	return Session{User: u, Token: token}, nil
}

func (a *Accounts) freeUsername(ctx context.Context) (string, error) {
	for i := 0; i < usernameAttempts; i++ {
		name, err := randomUsername()
		if err != nil {
			return "", common.Internal(err)
		}
		var n int64
		if err := a.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", name).Count(&n).Error; err != nil {
			return "", common.StorageUnavailable(err)
		}
		if n == 0 {
			return name, nil
		}
	}
	return "", common.Internal(errors.New("failed to allocate username"))
}

func randomUsername() (string, error) {
	out := make([]byte, usernameLength)
	max := big.NewInt(int64(len(usernameAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = usernameAlphabet[n.Int64()]
	}
	return string(out), nil
}
