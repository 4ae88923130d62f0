package store

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"planoraCollab/backend/internal/entity"
)

// TripStore 行程元数据，gorm 落 mysql。
// 协作核心只用到 标题→ID 和 建行程，完整的 CRUD 在行程服务那边。
type TripStore struct{ db *gorm.DB }

func NewTripStore(db *gorm.DB) *TripStore {
	return &TripStore{db: db}
}

func (s *TripStore) GetTripID(ctx context.Context, title string) (string, error) {
	var trip entity.Trip
	err := s.db.WithContext(ctx).Where("title = ?", title).First(&trip).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", gorm.ErrRecordNotFound
		}
		return "", err
	}
	return strconv.FormatUint(trip.ID, 10), nil
}

func (s *TripStore) CreateTrip(ctx context.Context, ownerID uint64, title string) (string, error) {
	trip := entity.Trip{
		Title:   title,
		Status:  entity.TripStatusPlanning,
		OwnerID: ownerID,
	}
	if err := s.db.WithContext(ctx).Create(&trip).Error; err != nil {
		return "", err
	}
	return strconv.FormatUint(trip.ID, 10), nil
}

func (s *TripStore) GetTrip(ctx context.Context, tripID uint64) (*entity.Trip, error) {
	var trip entity.Trip
	err := s.db.WithContext(ctx).First(&trip, tripID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trip, nil
}
