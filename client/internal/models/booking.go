package models

import (
	"strings"
	"time"
)

// BookingStatus is server-driven; the client only mirrors it.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingUpcoming  BookingStatus = "upcoming"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingNoShow    BookingStatus = "no-show"
)

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingUpcoming, BookingCompleted, BookingCancelled, BookingNoShow:
		return true
	}
	return false
}

// Layouts used by the bookings API for the date and start time fields.
const (
	DateLayout      = "2006-01-02"
	StartTimeLayout = "15:04"
)

// Booking is a reservation of a station slot.
type Booking struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	StationID   string        `json:"stationId"`
	StationName string        `json:"stationName,omitempty"`
	Date        string        `json:"date"`
	StartTime   string        `json:"startTime"`
	Duration    int           `json:"duration"`
	Status      BookingStatus `json:"status"`
	TotalPrice  float64       `json:"totalPrice"`
}

// Normalize maps server spellings ("Cancelled", "NoShow", "no_show") onto BookingStatus.
func (b *Booking) Normalize() {
	raw := strings.ToLower(strings.TrimSpace(string(b.Status)))
	switch raw {
	case "noshow", "no_show":
		raw = string(BookingNoShow)
	case "canceled":
		raw = string(BookingCancelled)
	}
	b.Status = BookingStatus(raw)
	if len(b.Date) > len(DateLayout) {
		// ISO timestamps are trimmed to the calendar date.
		if t, err := time.Parse(time.RFC3339, b.Date); err == nil {
			b.Date = t.Format(DateLayout)
		}
	}
}

// Validate checks the identifying fields and the status enumeration.
func (b Booking) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return invalid("booking", "id is required")
	}
	if !b.Status.Valid() {
		return invalid("booking", "unknown status %q", b.Status)
	}
	return nil
}

// CreateBookingRequest is the booking intent posted to the API.
type CreateBookingRequest struct {
	UserID    string `json:"userId"`
	StationID string `json:"stationId"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	Duration  int    `json:"duration"`
}
