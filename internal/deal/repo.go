package deal

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, d *Deal) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *Repo) Get(ctx context.Context, id uint64) (*Deal, error) {
	var d Deal
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID uint64, limit int) ([]Deal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var deals []Deal
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&deals).Error; err != nil {
		return nil, err
	}
	return deals, nil
}

// Update applies the given column values. Used by the negotiation service on
// confirm (offer_price, status, notes).
func (r *Repo) Update(ctx context.Context, id uint64, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&Deal{}).
		Where("id = ?", id).
		Updates(fields).Error
}
