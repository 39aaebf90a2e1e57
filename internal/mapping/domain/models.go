package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TagBillingMapping links an OCPP tag to a Lago customer and, optionally, a
// subscription. Rows are created and edited by an external admin surface;
// the engine consumes them read-only.
//
// A mapping without a subscription cannot be billed but still participates
// in tag-authorization decisions.
type TagBillingMapping struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	OcppTagID          string       `gorm:"column:ocpp_tag_id;not null;index" json:"ocpp_tag_id"`
	LagoCustomerID     string       `gorm:"column:lago_customer_id;not null" json:"lago_customer_id"`
	LagoSubscriptionID string       `gorm:"column:lago_subscription_id" json:"lago_subscription_id"`
	IsActive           bool         `gorm:"not null;default:true" json:"is_active"`
	// Note carries the auto-created-child marker written by the admin
	// surface when it fans a parent mapping out to new child tags.
	Note      string    `json:"note"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TagBillingMapping) TableName() string {
	return "tag_billing_mappings"
}

// Billable reports whether the mapping carries a subscription to bill
// against.
func (m TagBillingMapping) Billable() bool {
	return m.LagoSubscriptionID != ""
}

type Repository interface {
	ListActive(ctx context.Context, db *gorm.DB) ([]TagBillingMapping, error)
}
