package bootstrap

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/model"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.UserRanking{},
		&model.PointLog{},
		&model.RankHistory{},
	)
}

// SeedDevWarriors creates a handful of zero-score rankings so a fresh
// development database has a population to rank.
func SeedDevWarriors(db *gorm.DB) error {
	for i := 1; i <= 5; i++ {
		ranking := model.UserRanking{
			UserID:   uuid.New(),
			Username: fmt.Sprintf("warrior_%d", i),
			Tier:     model.TierRecruit,
		}

		var count int64
		if err := db.Model(&model.UserRanking{}).
			Where("username = ?", ranking.Username).
			Count(&count).Error; err != nil {
			return err
		}

		if count == 0 {
			if err := db.Create(&ranking).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
