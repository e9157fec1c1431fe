package models

// Account tracks cumulative participation for a wallet address
type Account struct {
	ID                  string `json:"id" db:"id"`
	TotalRSVPs          uint64 `json:"total_rsvps" db:"total_rsvps"`
	TotalAttendedEvents uint64 `json:"total_attended_events" db:"total_attended_events"`
}

// Event is an RSVP-able gathering created on chain
type Event struct {
	ID                      string  `json:"id" db:"id"`
	EventOwner              string  `json:"event_owner" db:"event_owner"`
	EventTimestamp          BigInt  `json:"event_timestamp" db:"event_timestamp"`
	MaxCapacity             BigInt  `json:"max_capacity" db:"max_capacity"`
	Deposit                 BigInt  `json:"deposit" db:"deposit"`
	PaidOut                 bool    `json:"paid_out" db:"paid_out"`
	TotalRSVPs              uint64  `json:"total_rsvps" db:"total_rsvps"`
	TotalConfirmedAttendees uint64  `json:"total_confirmed_attendees" db:"total_confirmed_attendees"`
	Name                    *string `json:"name,omitempty" db:"name"`
	Description             *string `json:"description,omitempty" db:"description"`
	Link                    *string `json:"link,omitempty" db:"link"`
	ImageURL                *string `json:"image_url,omitempty" db:"image_url"`
}

// RSVP records an attendee's intent to attend an event
type RSVP struct {
	ID       string `json:"id" db:"id"`
	Attendee string `json:"attendee" db:"attendee_id"`
	Event    string `json:"event" db:"event_id"`
}

// Confirmation records that an attendee actually attended an event
type Confirmation struct {
	ID       string `json:"id" db:"id"`
	Attendee string `json:"attendee" db:"attendee_id"`
	Event    string `json:"event" db:"event_id"`
}

// EventFilter for querying events
type EventFilter struct {
	Owner   *string `json:"owner,omitempty"`
	PaidOut *bool   `json:"paid_out,omitempty"`
	Limit   int     `json:"limit,omitempty"`
	Offset  int     `json:"offset,omitempty"`
}

// AttendanceFilter for querying RSVPs and confirmations
type AttendanceFilter struct {
	Event    *string `json:"event,omitempty"`
	Attendee *string `json:"attendee,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}
