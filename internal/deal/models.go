package deal

import "time"

// Deal is a vehicle listing being negotiated. The negotiation core reads it
// to seed context and writes it exactly once, on confirm.
type Deal struct {
	ID          uint64   `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64   `gorm:"index;not null" json:"-"`
	Make        string   `gorm:"type:varchar(64);not null" json:"make"`
	Model       string   `gorm:"type:varchar(64);not null" json:"model"`
	Year        int      `gorm:"not null" json:"year"`
	Mileage     int      `json:"mileage"`
	AskingPrice float64  `gorm:"not null" json:"asking_price"`
	OfferPrice  *float64 `json:"offer_price,omitempty"`
	Status      string   `gorm:"type:varchar(16);index;not null;default:listed" json:"status"`
	Notes       string   `gorm:"type:text" json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Deal) TableName() string { return "deals" }
