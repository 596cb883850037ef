package domain

import "time"

// Account is the read-only view of a registered user that the pipeline needs
// for entitlement decisions. It is owned by the web application.
type Account struct {
	UserID             string
	Name               string
	Phone              string
	SubscriptionStatus string // active | trial | test | canceled | past_due | ...
	Role               string
}

// AccountLink binds a user to a gateway sender address.
type AccountLink struct {
	ID                string
	UserID            string
	NormalizedAddress string
	LinkCode          string
	LinkCodeExpiry    *time.Time
	IsActive          bool
	CreatedAt         time.Time
	ActivatedAt       *time.Time
}
