package models

import "time"

// Booking outcomes recorded in the journal.
const (
	BookingOutcomeQueued    = "queued"
	BookingOutcomeExhausted = "exhausted"
	BookingOutcomeRejected  = "rejected"
)

// BookingRecord is the journaled result of one booking request.
type BookingRecord struct {
	ID             int64     `db:"id" json:"id"`
	SessionID      string    `db:"session_id" json:"session_id"`
	TrainCode      string    `db:"train_code" json:"train_code"`
	TrainDate      string    `db:"train_date" json:"train_date"`
	FromStation    string    `db:"from_station" json:"from_station"`
	ToStation      string    `db:"to_station" json:"to_station"`
	SeatType       string    `db:"seat_type" json:"seat_type"`
	PassengerCount int       `db:"passenger_count" json:"passenger_count"`
	Attempts       int       `db:"attempts" json:"attempts"`
	Outcome        string    `db:"outcome" json:"outcome"`
	Reason         string    `db:"reason" json:"reason"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
