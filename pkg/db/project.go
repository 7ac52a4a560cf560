// Database models for project storage
package db

import "time"

// Project is one stored project. Payload holds the encoded file map envelope;
// Name and UpdatedAt double as the project directory entry.
type Project struct {
	ID          string    `json:"id" gorm:"primaryKey;size:128"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	Description string    `json:"description" gorm:"type:text"`
	Template    string    `json:"template" gorm:"size:64"`
	Payload     string    `json:"-" gorm:"type:text;not null"`
	Digest      string    `json:"digest" gorm:"size:64"`
	FileCount   int       `json:"file_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"index"`
}

func (Project) TableName() string {
	return "projects"
}
