package entity

type Mentor struct {
	BaseNoDelete
	DisplayName  string  `db:"display_name"`
	HourlyRate   float64 `db:"hourly_rate"`
	SlotCapacity int     `db:"slot_capacity"`
	IsActive     bool    `db:"is_active"`
}
