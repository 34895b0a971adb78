package entities

import "time"

// User is a person who can be notified. Email is the natural key.
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	FirstName   string    `gorm:"size:100;not null" json:"first_name"`
	LastName    string    `gorm:"size:100;not null" json:"last_name"`
	Role        string    `gorm:"size:100;not null;default:''" json:"role"`
	Email       string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PhoneNumber *string   `gorm:"size:50" json:"phone_number"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}
