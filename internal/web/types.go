package web

import "time"

// DocumentSummary is one row of the operator page.
type DocumentSummary struct {
	Document    string
	Phase       string
	Clients     int
	IdleSeconds float64
	Roster      []string
}

type AdminHomeData struct {
	Documents     []DocumentSummary
	ActiveClients int
	IdleGCSeconds int
	GeneratedAt   time.Time
}
