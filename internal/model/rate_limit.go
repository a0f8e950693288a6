package model

// RateLimitRecord is the persisted cooldown state for one source identifier.
type RateLimitRecord struct {
	Bucket           int    `json:"-" gorm:"-" db:"bucket"`
	SourceIdentifier string `json:"source_identifier" gorm:"primaryKey;type:text;not null" db:"source_identifier"`
	LastRequestTime  int64  `json:"last_request_time" gorm:"not null;index" db:"last_request_time"` // unix seconds
}

func (RateLimitRecord) TableName() string {
	return "rate_limits"
}
