package models

import (
	"time"

	"github.com/google/uuid"
)

// RankingEntry is a row of the leaderboard. Team and individual entries live
// in the same table and are ranked separately.
type RankingEntry struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	TeamName     string    `json:"teamName" gorm:"type:varchar(150);not null"`
	Points       int       `json:"points" gorm:"not null;default:0"`
	Rank         int       `json:"rank" gorm:"not null;default:0"`
	IsIndividual bool      `json:"isIndividual" gorm:"not null;default:false;index"`
	Wins         int       `json:"wins" gorm:"not null;default:0"`
	Losses       int       `json:"losses" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (RankingEntry) TableName() string {
	return "teams"
}

type TeamMember struct {
	TeamID uint      `json:"teamID" gorm:"primaryKey"`
	UserID uuid.UUID `json:"userID" gorm:"type:uuid;primaryKey"`
}

type CourseTeam struct {
	CourseID uint `json:"courseID" gorm:"primaryKey"`
	TeamID   uint `json:"teamID" gorm:"primaryKey"`
}
