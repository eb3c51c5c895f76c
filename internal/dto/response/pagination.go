package response

type PaginatedResponse[T any] struct {
	Data       []T            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

type PaginationMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

func NewPaginatedResponse[T any](data []T, page, perPage int, total int64) *PaginatedResponse[T] {
	if data == nil {
		data = []T{}
	}

	totalPages := 0
	if perPage > 0 {
		totalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}

	return &PaginatedResponse[T]{
		Data: data,
		Pagination: PaginationMeta{
			Total:      total,
			Page:       page,
			PerPage:    perPage,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
		},
	}
}
