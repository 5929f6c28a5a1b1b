package domain

import (
	"fmt"
	"time"
)

// SortBy is the list ordering field.
type SortBy string

const (
	SortByCreatedAt SortBy = "CREATED_AT"
	SortByChangedAt SortBy = "CHANGED_AT"
)

// SortOrder is the list direction.
type SortOrder string

const (
	OrderAsc  SortOrder = "ASC"
	OrderDesc SortOrder = "DESC"
)

// SortSettings is a user's preferred reminder list order.
type SortSettings struct {
	SortBy SortBy
	Order  SortOrder
}

// DefaultSort matches the server's default listing order.
var DefaultSort = SortSettings{SortBy: SortByCreatedAt, Order: OrderDesc}

// Validate rejects unknown fields and directions.
func (s SortSettings) Validate() error {
	switch s.SortBy {
	case SortByCreatedAt, SortByChangedAt:
	default:
		return fmt.Errorf("unknown sort field %q", s.SortBy)
	}
	switch s.Order {
	case OrderAsc, OrderDesc:
	default:
		return fmt.Errorf("unknown sort order %q", s.Order)
	}
	return nil
}

// OrDefault returns s when valid and DefaultSort otherwise.
func (s SortSettings) OrDefault() SortSettings {
	if s.Validate() != nil {
		return DefaultSort
	}
	return s
}

// ListQuery selects a page of reminders.
type ListQuery struct {
	Page     int
	PageSize int
	Sort     SortSettings
}

const (
	DefaultPage     = 1
	DefaultPageSize = 20
)

// Normalized fills zero fields with the API defaults.
func (q ListQuery) Normalized() ListQuery {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	q.Sort = q.Sort.OrDefault()
	return q
}

// User is a Telegram user of the bot with their preferences.
type User struct {
	ID         int64
	TelegramID int64
	Name       string
	TimeZone   string
	Locale     string
	Sort       SortSettings
	CreatedAt  time.Time
}
