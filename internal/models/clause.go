package models

import "time"

// Clause is one indexed policy or regulation clause, stored for retrieval.
type Clause struct {
	ID         uint   `gorm:"primaryKey"`
	Law        string `gorm:"size:64;index"`
	Article    string `gorm:"size:64"`
	ClauseID   string `gorm:"size:128;index"`
	Title      string `gorm:"size:255"`
	Text       string `gorm:"type:text"`
	SourcePath string `gorm:"size:512;index"`
	CreatedAt  time.Time
}
