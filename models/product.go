package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Product is the durable catalogue row. At most one row exists per SKUNormalized.
type Product struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	SKU           string          `json:"sku" gorm:"type:varchar(255);not null"`
	SKUNormalized string          `json:"sku_normalized" gorm:"type:varchar(255);not null;uniqueIndex"`
	Name          *string         `json:"name" gorm:"type:varchar(1024)"`
	Description   *string         `json:"description" gorm:"type:text"`
	Price         *string         `json:"price" gorm:"type:varchar(64)"`
	Active        bool            `json:"active" gorm:"not null;default:true"`
	Metadata      json.RawMessage `json:"metadata" gorm:"type:jsonb"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

// NormalizeSKU returns the case-insensitive key products are unique on.
func NormalizeSKU(sku string) string {
	return strings.ToLower(sku)
}
