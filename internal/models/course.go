package models

import "time"

type Course struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"type:varchar(255);not null"`
	Description *string   `json:"description,omitempty" gorm:"type:text"`
	ImageURL    *string   `json:"imageURL,omitempty" gorm:"type:text"`
	Visible     bool      `json:"visible" gorm:"not null"`
	CourseOrder int       `json:"courseOrder" gorm:"not null;default:0"`
	Sections    []Section `json:"sections,omitempty" gorm:"foreignKey:CourseID"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Section struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	CourseID           uint      `json:"courseID" gorm:"not null;index"`
	SectionTitle       string    `json:"sectionTitle" gorm:"type:varchar(255);not null"`
	SectionDescription *string   `json:"sectionDescription,omitempty" gorm:"type:text"`
	FilePath           string    `json:"filePath" gorm:"type:text;not null"`
	Visible            bool      `json:"visible" gorm:"not null"`
	SectionOrder       int       `json:"sectionOrder" gorm:"not null;default:0"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (Section) TableName() string {
	return "course_sections"
}

type SectionAttachment struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CourseID  uint      `json:"courseID" gorm:"not null;index"`
	SectionID uint      `json:"sectionID" gorm:"not null;uniqueIndex:idx_section_filename"`
	Filename  string    `json:"filename" gorm:"type:varchar(255);not null;uniqueIndex:idx_section_filename"`
	FilePath  string    `json:"filePath" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt"`
}
