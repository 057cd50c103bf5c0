package repository

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/shinyyama/rental-backend/internal/model"
	"gorm.io/gorm"
)

type PropertyRepository interface {
	Create(ctx context.Context, p *model.Property) error
	FindByID(ctx context.Context, id uint64) (*model.Property, error)
	FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Property, error)
	SetDB(db *gorm.DB)
}

type propertyRepository struct {
	connHolder
}

var ErrDBNotReady = errors.New("database not initialized")

// connHolder lets a connection be attached after construction. SetDB may run
// while requests are being served.
type connHolder struct {
	db atomic.Pointer[gorm.DB]
}

func (h *connHolder) SetDB(db *gorm.DB) {
	h.db.Store(db)
}

// conn returns a session bound to ctx, or nil before SetDB has run.
func (h *connHolder) conn(ctx context.Context) *gorm.DB {
	db := h.db.Load()
	if db == nil {
		return nil
	}
	return db.WithContext(ctx)
}

func NewPropertyRepository(db *gorm.DB) PropertyRepository {
	r := &propertyRepository{}
	r.SetDB(db)
	return r
}

func (r *propertyRepository) Create(ctx context.Context, p *model.Property) error {
	db := r.conn(ctx)
	if db == nil {
		return ErrDBNotReady
	}
	return db.Create(p).Error
}

func (r *propertyRepository) FindByID(ctx context.Context, id uint64) (*model.Property, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	var p model.Property
	if err := db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *propertyRepository) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]model.Property, error) {
	db := r.conn(ctx)
	if db == nil {
		return nil, ErrDBNotReady
	}
	out := make(map[uint64]model.Property, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []model.Property
	if err := db.Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

