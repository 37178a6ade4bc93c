package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/career-counselor/internal/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Record struct {
	IPAddress string    `gorm:"primaryKey;type:varchar(64)" json:"ip_address"`
	Count     int       `gorm:"column:request_count;not null;default:0" json:"count"`
	ResetAt   time.Time `gorm:"index;not null" json:"reset_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Record) TableName() string { return "anonymous_requests" }

// RequestKey marks a client request key as charged for an IP until the
// window it was charged in ends.
type RequestKey struct {
	IPAddress  string    `gorm:"primaryKey;type:varchar(64)"`
	RequestKey string    `gorm:"primaryKey;type:varchar(128)"`
	ExpiresAt  time.Time `gorm:"index;not null"`
	CreatedAt  time.Time
}

func (RequestKey) TableName() string { return "anonymous_request_keys" }

var errExhausted = errors.New("quota exhausted")

// GormStore keeps one row per IP and relies on conditional UPDATEs so the
// database serializes concurrent charges.
type GormStore struct {
	db     *gorm.DB
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewGormStore(db *gorm.DB, limit int, window time.Duration) *GormStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &GormStore{db: db, limit: limit, window: window, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *GormStore) WithClock(now func() time.Time) *GormStore {
	s.now = now
	return s
}

func (s *GormStore) Limit() int { return s.limit }

// touch makes sure a live record exists for ip.
func (s *GormStore) touch(tx *gorm.DB, ip string, now time.Time) error {
	fresh := Record{IPAddress: ip, Count: 0, ResetAt: now.Add(s.window)}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return err
	}
	return tx.Model(&Record{}).
		Where("ip_address = ? AND reset_at < ?", ip, now).
		Updates(map[string]any{
			"request_count": 0,
			"reset_at":      now.Add(s.window),
		}).Error
}

func (s *GormStore) Check(ctx context.Context, ip string) (Status, error) {
	now := s.now().UTC()
	var rec Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.touch(tx, ip, now); err != nil {
			return err
		}
		return tx.Where("ip_address = ?", ip).First(&rec).Error
	})
	if err != nil {
		return Status{}, common.StorageUnavailable(fmt.Errorf("ratelimit check ip=%s: %w", ip, err))
	}
	return NewStatus(rec.Count, s.limit, rec.ResetAt), nil
}

func (s *GormStore) Increment(ctx context.Context, ip string) (Status, error) {
	now := s.now().UTC()
	var (
		rec     Record
		charged bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.touch(tx, ip, now); err != nil {
			return err
		}
		res := tx.Model(&Record{}).
			Where("ip_address = ? AND request_count < ?", ip, s.limit).
			UpdateColumn("request_count", gorm.Expr("request_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		charged = res.RowsAffected == 1
		return tx.Where("ip_address = ?", ip).First(&rec).Error
	})
	if err != nil {
		return Status{}, common.StorageUnavailable(fmt.Errorf("ratelimit increment ip=%s: %w", ip, err))
	}
	st := NewStatus(rec.Count, s.limit, rec.ResetAt)
	st.Allowed = charged
	return st, nil
}

func (s *GormStore) IncrementOnce(ctx context.Context, ip, key string) (Status, bool, error) {
	if key == "" {
		st, err := s.Increment(ctx, ip)
		return st, false, err
	}

	now := s.now().UTC()
	var (
		rec    Record
		replay bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.touch(tx, ip, now); err != nil {
			return err
		}
		if err := tx.Where("ip_address = ? AND request_key = ? AND expires_at < ?", ip, key, now).
			Delete(&RequestKey{}).Error; err != nil {
			return err
		}
		if err := tx.Where("ip_address = ?", ip).First(&rec).Error; err != nil {
			return err
		}

		// the key row doubles as the lock: a concurrent duplicate loses here
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&RequestKey{IPAddress: ip, RequestKey: key, ExpiresAt: rec.ResetAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			replay = true
			return nil
		}

		up := tx.Model(&Record{}).
			Where("ip_address = ? AND request_count < ?", ip, s.limit).
			UpdateColumn("request_count", gorm.Expr("request_count + 1"))
		if up.Error != nil {
			return up.Error
		}
		if up.RowsAffected == 0 {
			// rolls the key row back so a later retry is judged afresh
			return errExhausted
		}
		return tx.Where("ip_address = ?", ip).First(&rec).Error
	})
	if errors.Is(err, errExhausted) {
		st := NewStatus(rec.Count, s.limit, rec.ResetAt)
		st.Allowed = false
		return st, false, nil
	}
	if err != nil {
		return Status{}, false, common.StorageUnavailable(fmt.Errorf("ratelimit increment ip=%s: %w", ip, err))
	}
	st := NewStatus(rec.Count, s.limit, rec.ResetAt)
	st.Allowed = true
	return st, replay, nil
}

func (s *GormStore) Status(ctx context.Context, ip string) (Status, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("ip_address = ?", ip).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewStatus(0, s.limit, time.Time{}), nil
	}
	if err != nil {
		return Status{}, common.StorageUnavailable(fmt.Errorf("ratelimit status ip=%s: %w", ip, err))
	}
	if s.now().UTC().After(rec.ResetAt) {
		return NewStatus(0, s.limit, time.Time{}), nil
	}
	return NewStatus(rec.Count, s.limit, rec.ResetAt), nil
}

func (s *GormStore) Reset(ctx context.Context, ip string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ip_address = ?", ip).Delete(&RequestKey{}).Error; err != nil {
			return err
		}
		return tx.Where("ip_address = ?", ip).Delete(&Record{}).Error
	})
	if err != nil {
		return common.StorageUnavailable(fmt.Errorf("ratelimit reset ip=%s: %w", ip, err))
	}
	return nil
}
