package repository

import (
	"context"

	"github.com/voltbill/chargesync/internal/mapping/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]domain.TagBillingMapping, error) {
	var mappings []domain.TagBillingMapping
	err := db.WithContext(ctx).Raw(
		`SELECT id, ocpp_tag_id, lago_customer_id, lago_subscription_id, is_active, note, created_at, updated_at
		 FROM tag_billing_mappings
		 WHERE is_active = ?
		 ORDER BY ocpp_tag_id, id`,
		true,
	).Scan(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}
