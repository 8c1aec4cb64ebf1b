package models

import "strings"

// StationStatus enumerates the states a charging station can report.
type StationStatus string

const (
	StationAvailable   StationStatus = "available"
	StationOccupied    StationStatus = "occupied"
	StationMaintenance StationStatus = "maintenance"
	StationOffline     StationStatus = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s StationStatus) Valid() bool {
	switch s {
	case StationAvailable, StationOccupied, StationMaintenance, StationOffline:
		return true
	}
	return false
}

// Station describes a charging station as returned by the stations API.
type Station struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Address     string        `json:"address"`
	Status      StationStatus `json:"status"`
	PowerKW     float64       `json:"powerKw"`
	PricePerKWh float64       `json:"pricePerKwh"`
	ChargerType string        `json:"chargerType"`
	ManagerID   string        `json:"managerId,omitempty"`
	Latitude    float64       `json:"latitude,omitempty"`
	Longitude   float64       `json:"longitude,omitempty"`
}

// Normalize lower-cases the status so "Available" from the server validates.
func (s *Station) Normalize() {
	s.Status = StationStatus(strings.ToLower(strings.TrimSpace(string(s.Status))))
}

// Validate checks the fields the client relies on.
func (s Station) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return invalid("station", "id is required")
	}
	if !s.Status.Valid() {
		return invalid("station", "unknown status %q", s.Status)
	}
	if s.PowerKW < 0 || s.PricePerKWh < 0 {
		return invalid("station", "negative power or price on %s", s.ID)
	}
	return nil
}

// StationInput is the payload for create/update calls.
type StationInput struct {
	Name        string        `json:"name"`
	Address     string        `json:"address"`
	Status      StationStatus `json:"status,omitempty"`
	PowerKW     float64       `json:"powerKw"`
	PricePerKWh float64       `json:"pricePerKwh"`
	ChargerType string        `json:"chargerType"`
	ManagerID   string        `json:"managerId,omitempty"`
	Latitude    float64       `json:"latitude,omitempty"`
	Longitude   float64       `json:"longitude,omitempty"`
}
