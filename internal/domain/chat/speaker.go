package chat

import (
	"time"

	"github.com/google/uuid"
)

type Speaker struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name   string    `gorm:"column:name;not null" json:"name"`
	Avatar string    `gorm:"column:avatar;not null;default:''" json:"avatar"`
	Color  string    `gorm:"column:color;not null;default:''" json:"color"`
	IsUser bool      `gorm:"column:is_user;not null;default:false;index" json:"is_user"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Speaker) TableName() string { return "speakers" }

type Setting struct {
	Key       string    `gorm:"column:key;primaryKey" json:"key"`
	Value     string    `gorm:"column:value;type:text;not null;default:''" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }
