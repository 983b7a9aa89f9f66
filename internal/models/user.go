package models

import "time"

type UserRole string

const (
	UserRoleAdmin   UserRole = "admin"
	UserRoleMentor  UserRole = "mentor"
	UserRoleStudent UserRole = "student"
	UserRoleUser    UserRole = "user"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleAdmin, UserRoleMentor, UserRoleStudent, UserRoleUser:
		return true
	default:
		return false
	}
}

// Staff roles manage content, users and the ranking table.
var StaffRoles = []UserRole{UserRoleAdmin, UserRoleMentor}

type User struct {
	BaseModel
	Login                string     `json:"login" gorm:"type:varchar(100);uniqueIndex;not null"`
	Username             string     `json:"username" gorm:"type:varchar(100);not null"`
	LastName             string     `json:"lastName" gorm:"type:varchar(100)"`
	Email                string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash         string     `json:"-" gorm:"type:text;not null"`
	Role                 UserRole   `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	UserGroup            string     `json:"userGroup" gorm:"type:varchar(100);index"`
	CodeGroup            string     `json:"codeGroup" gorm:"type:varchar(100);index"`
	Avatar               string     `json:"avatar" gorm:"type:text"`
	EmailVerified        bool       `json:"emailVerified" gorm:"not null;default:false"`
	VerificationCode     *string    `json:"-" gorm:"type:varchar(6)"`
	ResetPasswordToken   *string    `json:"-" gorm:"type:varchar(64);index"`
	ResetPasswordExpires *time.Time `json:"-"`
	LastActive           *time.Time `json:"lastActive,omitempty"`
}
