package request

import (
	"net/url"

	"tutoring-booking/pkg/utils"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// PaginatedRequest pages operator listings such as provisioning-failed bookings.
type PaginatedRequest struct {
	Page    int `json:"page" validate:"min=1"`
	PerPage int `json:"per_page" validate:"min=1,max=100"`
}

// PaginationFromQuery reads ?page=&per_page=, defaulting missing or
// malformed values. Oversized per_page is left for validation to reject.
func PaginationFromQuery(query url.Values) *PaginatedRequest {
	return &PaginatedRequest{
		Page:    utils.ParseInt(query.Get("page"), 1),
		PerPage: utils.ParseInt(query.Get("per_page"), DefaultPerPage),
	}
}

func (p PaginatedRequest) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

func (p PaginatedRequest) Limit() int {
	switch {
	case p.PerPage < 1:
		return DefaultPerPage
	case p.PerPage > MaxPerPage:
		return MaxPerPage
	}
	return p.PerPage
}
