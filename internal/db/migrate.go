package db

import (
	"github.com/suPer8Hu/career-counselor/internal/chat"
	"github.com/suPer8Hu/career-counselor/internal/models"
	"github.com/suPer8Hu/career-counselor/internal/ratelimit"
	"gorm.io/gorm"
)

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&chat.Session{},
		&chat.Message{},
		&ratelimit.Record{},
		&ratelimit.RequestKey{},
		&models.TurnEvent{},
	)
}
