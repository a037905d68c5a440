package negotiation

import "time"

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Metadata keys carried on messages. The message ledger is the source of
// truth for the negotiated price: the current price is derived by scanning
// recent messages for MetaSuggestedPrice, never stored on the session.
const (
	MetaSuggestedPrice    = "suggested_price"
	MetaCounterOffer      = "counter_offer"
	MetaTargetPrice       = "target_price"
	MetaFinancingOptions  = "financing_options"
	MetaCashSavings       = "cash_savings"
	MetaAIMetrics         = "ai_metrics"
	MetaLLMUsed           = "llm_used"
	MetaAction            = "action"
	MetaMessageType       = "message_type"
	MetaInfoType          = "info_type"
	MetaPriceMentioned    = "price_mentioned"
	MetaRecommendedAction = "recommended_action"
)

type Session struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID    string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID       uint64    `gorm:"index;not null" json:"-"`
	DealID       uint64    `gorm:"index;not null" json:"deal_id"`
	Status       string    `gorm:"type:varchar(16);index;not null;default:active" json:"status"`
	CurrentRound int       `gorm:"not null;default:1" json:"current_round"`
	MaxRounds    int       `gorm:"not null" json:"max_rounds"`
	Strategy     string    `gorm:"type:varchar(32)" json:"strategy,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "negotiation_sessions" }

// Message is one entry of the session ledger. Immutable after insertion;
// ordering is insertion order (auto-increment id).
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);not null;index" json:"session_id"`
	UserID    uint64    `gorm:"not null;index" json:"-"`
	Round     int       `gorm:"not null" json:"round"`
	Role      string    `gorm:"type:varchar(16);index;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Metadata  Metadata  `gorm:"type:json;serializer:json" json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "negotiation_messages" }

// Metadata is the free-form blob attached to a message.
type Metadata map[string]any

// Float reads a numeric metadata value. JSON round-trips turn numbers into
// float64, but values set in-process may still be ints.
func (m Metadata) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
