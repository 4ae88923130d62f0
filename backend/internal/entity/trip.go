package entity

import "time"

// 行程状态，对齐产品侧的枚举
const (
	TripStatusPlanning   = "PLANNING"
	TripStatusConfirmed  = "CONFIRMED"
	TripStatusInProgress = "IN_PROGRESS"
	TripStatusCompleted  = "COMPLETED"
	TripStatusCancelled  = "CANCELLED"
)

type Trip struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Title       string `gorm:"type:varchar(200);not null;uniqueIndex"`
	Destination string `gorm:"type:varchar(200)"`
	StartDate   string `gorm:"type:date"`
	EndDate     string `gorm:"type:date"`
	Status      string `gorm:"type:varchar(20);not null;default:PLANNING"`
	OwnerID     uint64 `gorm:"not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
