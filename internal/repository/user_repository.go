package repository

import (
	"context"

	"github.com/shinyyama/rental-backend/internal/model"
	"gorm.io/gorm"
)

type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	FindByID(ctx context.Context, id uint64) (*model.User, error)
	FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.User, error)
	FindByFirebaseUID(ctx context.Context, uid string) (*model.User, error)
	SetDB(db *gorm.DB)
}

type userRepository struct {
	connHolder
}

func NewUserRepository(db *gorm.DB) UserRepository {
	r := &userRepository{}
	r.SetDB(db)
	return r
}

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	db := r.conn(ctx)
	if db == nil {
		return ErrDBNotReady
	}
	return db.Create(u).Error
}

func (r *userRepository) FindByID(ctx context.Context, id uint64) (*model.User, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	var u model.User
	if err := db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.User, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	out := make(map[uint64]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []model.User
	if err := db.Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, u := range list {
		out[u.ID] = u
	}
	return out, nil
}

func (r *userRepository) FindByFirebaseUID(ctx context.Context, uid string) (*model.User, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	var u model.User
	if err := db.Where("firebase_uid = ?", uid).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

