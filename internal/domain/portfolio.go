package domain

import "time"

// Portfolio is the capital pool shared by all positions opened under it.
// Available and allocated capital are mutated only through single atomic
// adjustments inside the ledger transaction, never read-modify-write.
type Portfolio struct {
	ID               string
	Name             string
	TotalCapital     float64
	AvailableCapital float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AllocatedCapital is the capital currently tied up in open positions.
func (p Portfolio) AllocatedCapital() float64 {
	return p.TotalCapital - p.AvailableCapital
}
