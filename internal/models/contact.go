package models

type Contact struct {
	ID       uint    `json:"id" gorm:"primaryKey"`
	Name     string  `json:"name" gorm:"type:varchar(150);not null"`
	Email    *string `json:"email,omitempty" gorm:"type:varchar(255)"`
	Role     *string `json:"role,omitempty" gorm:"type:varchar(150)"`
	Telegram *string `json:"telegram,omitempty" gorm:"type:varchar(150)"`
	Github   *string `json:"github,omitempty" gorm:"type:varchar(150)"`
	Avatar   *string `json:"avatar,omitempty" gorm:"type:text"`
}
