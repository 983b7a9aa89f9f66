package models

import "time"

type News struct {
	ID          uint             `json:"id" gorm:"primaryKey"`
	Title       string           `json:"title" gorm:"type:varchar(255);not null"`
	Description *string          `json:"description,omitempty" gorm:"type:text"`
	Date        *string          `json:"date,omitempty" gorm:"type:varchar(32)"`
	Tags        []string         `json:"tags" gorm:"type:text;serializer:json"`
	ImageURL    *string          `json:"imageURL,omitempty" gorm:"type:text"`
	FilePath    string           `json:"filePath" gorm:"type:text;not null"`
	Visible     bool             `json:"visible" gorm:"not null"`
	Position    int              `json:"position" gorm:"not null;default:0"`
	Attachments []NewsAttachment `json:"attachments,omitempty" gorm:"foreignKey:NewsID"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

type NewsAttachment struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	NewsID    uint      `json:"newsID" gorm:"not null;index"`
	Filename  string    `json:"filename" gorm:"type:varchar(255);not null"`
	FileURL   string    `json:"fileURL" gorm:"type:text;not null"`
	FileType  string    `json:"fileType" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"createdAt"`
}
