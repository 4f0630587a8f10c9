package models

import "time"

// GuestRecord represents a wedding guest as held by the ledger
type GuestRecord struct {
	ID                               string           `json:"id"`
	DisplayName                      string           `json:"name"`
	RequiresGiftMoneyConfirmation    bool             `json:"requires_gift_money_confirmation"`
	RequiresTransportFeeConfirmation bool             `json:"requires_transport_fee_confirmation"`
	QRImageURL                       string           `json:"qr_image_url,omitempty"`
	GiftSelectionURL                 string           `json:"gift_selection_url,omitempty"`
	LineUserID                       string           `json:"line_user_id,omitempty"`
	Phone                            string           `json:"phone,omitempty"`
	Attendance                       AttendanceStatus `json:"attendance"`
	CheckedInAt                      time.Time        `json:"checked_in_at,omitempty"`
	Answers                          Answers          `json:"answers,omitempty"`
}

// RequiredConfirmations lists the decisions an attendant has to make before the
// guest can be checked in, in a fixed order.
func (g *GuestRecord) RequiredConfirmations() []ConfirmationKind {
	var kinds []ConfirmationKind
	if g.RequiresGiftMoneyConfirmation {
		kinds = append(kinds, ConfirmationGiftMoney)
	}
	if g.RequiresTransportFeeConfirmation {
		kinds = append(kinds, ConfirmationTransportFee)
	}
	return kinds
}

// AttendanceStatus represents whether the guest has been checked in
type AttendanceStatus string

const (
	AttendancePending   AttendanceStatus = "not_checked_in"
	AttendanceCheckedIn AttendanceStatus = "checked_in"
)

// ConfirmationKind is a yes/no decision required before finalizing check-in
type ConfirmationKind string

const (
	ConfirmationGiftMoney    ConfirmationKind = "gift_money"
	ConfirmationTransportFee ConfirmationKind = "transport_fee"
)

// ConfirmationKinds returns every known kind in asking order.
func ConfirmationKinds() []ConfirmationKind {
	return []ConfirmationKind{ConfirmationGiftMoney, ConfirmationTransportFee}
}

// Valid reports whether k is a known kind.
func (k ConfirmationKind) Valid() bool {
	return k == ConfirmationGiftMoney || k == ConfirmationTransportFee
}

// Answers holds the recorded confirmation answers. A missing key means the
// question was never asked.
type Answers map[ConfirmationKind]bool

// Get returns the answer for kind and whether one was given.
func (a Answers) Get(kind ConfirmationKind) (value bool, ok bool) {
	if a == nil {
		return false, false
	}
	value, ok = a[kind]
	return value, ok
}

// CheckInRequest represents a request to record a guest's attendance
type CheckInRequest struct {
	ID      string  `json:"id"`
	Answers Answers `json:"confirmationAnswers,omitempty"`
}
