package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `json:"id" gorm:"primaryKey;autoIncrement:false;index:ix_products_created_at_id,priority:2,sort:desc"`
	Name      string          `json:"name" gorm:"type:text;not null"`
	Details   *string         `json:"details,omitempty" gorm:"type:text"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	Size      string          `json:"size" gorm:"type:text;not null"`
	Color     string          `json:"color" gorm:"type:text;not null"`
	Category  string          `json:"category" gorm:"type:text;not null"`
	Image     *string         `json:"image,omitempty" gorm:"type:text"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null;index:ix_products_created_at_id,priority:1,sort:desc"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

// ImagePath returns the stored relative image path or "".
func (p Product) ImagePath() string {
	if p.Image == nil {
		return ""
	}
	return *p.Image
}

// DetailsText returns the details or "".
func (p Product) DetailsText() string {
	if p.Details == nil {
		return ""
	}
	return *p.Details
}
