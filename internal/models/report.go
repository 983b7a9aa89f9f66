package models

import "github.com/google/uuid"

type ReportStatus string

const (
	ReportStatusPending  ReportStatus = "pending"
	ReportStatusResolved ReportStatus = "resolved"
)

type Report struct {
	BaseModel
	UserID         uuid.UUID    `json:"userID" gorm:"type:uuid;not null;index"`
	Message        string       `json:"message" gorm:"type:text;not null"`
	Status         ReportStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	AdminResponse  *string      `json:"adminResponse,omitempty" gorm:"type:text"`
	RelayMessageID *int64       `json:"-" gorm:"index"`
}
