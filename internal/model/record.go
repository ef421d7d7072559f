package model

import (
	"encoding/json"
	"strings"
)

// RecordType distinguishes the two kinds of mileage record
type RecordType string

const (
	RecordTypeReading RecordType = "releve"
	RecordTypeAbsence RecordType = "absence"
)

// CreatedAtLayout is the timestamp layout of CreatedAt and LastReassignedAt,
// always rendered in UTC with millisecond precision.
const CreatedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// MileageRecord is one entry of a monthly partition file.
// Records are immutable once appended.
type MileageRecord struct {
	Type       RecordType `json:"type"`
	RouteID    *string    `json:"id"`
	Site       string     `json:"agence"`
	SiteCode   string     `json:"codeAgence"`
	RouteName  string     `json:"tournee"`
	RouteCode  string     `json:"codeTournee"`
	DriverName string     `json:"chauffeur"`
	DriverCode string     `json:"codeChauffeur"`
	Date       string     `json:"date"`
	Km         *float64   `json:"km"`
	TimeSlot   *string    `json:"horaire"`
	Comment    string     `json:"commentaire"`
	Note       string     `json:"note"`
	CreatedAt  string     `json:"createdAt"`
}

// Day returns the YYYY-MM-DD part of the record date.
func (r *MileageRecord) Day() string {
	if len(r.Date) > 10 {
		return r.Date[:10]
	}
	return r.Date
}

// RouteIDOrEmpty returns the route identifier, empty when unset.
func (r *MileageRecord) RouteIDOrEmpty() string {
	if r.RouteID == nil {
		return ""
	}
	return *r.RouteID
}

// DayFilter narrows a day read. Empty fields match everything.
type DayFilter struct {
	RouteID    string
	RouteCode  string
	DriverCode string
}

// Matches reports whether r passes every non-empty criterion.
func (f DayFilter) Matches(r *MileageRecord) bool {
	if f.RouteID != "" && strings.TrimSpace(r.RouteIDOrEmpty()) != f.RouteID {
		return false
	}
	if f.RouteCode != "" && strings.TrimSpace(r.RouteCode) != f.RouteCode {
		return false
	}
	if f.DriverCode != "" && strings.TrimSpace(r.DriverCode) != f.DriverCode {
		return false
	}
	return true
}

// ReadingInput carries a mileage reading before validation.
type ReadingInput struct {
	RouteID    string
	Site       string
	SiteCode   string
	RouteName  string
	RouteCode  string
	DriverName string
	DriverCode string
	Date       string
	Km         *float64
	TimeSlot   string
	Comment    string

	// IdempotencyKey, when set, makes resubmissions of the same reading no-ops.
	IdempotencyKey string
}

// AbsenceInput carries a driver absence before validation.
type AbsenceInput struct {
	Site       string
	SiteCode   string
	RouteName  string
	RouteCode  string
	DriverName string
	DriverCode string
	Date       string
	Note       string

	IdempotencyKey string
}

// AppendResult reports the outcome of an append.
type AppendResult struct {
	Record    *MileageRecord
	Path      string
	Duplicate bool
}

// storedRecord is the tolerant shape of a partition entry.
type storedRecord struct {
	Type       storedText   `json:"type"`
	RouteID    *storedText  `json:"id"`
	Site       storedText   `json:"agence"`
	SiteCode   storedText   `json:"codeAgence"`
	RouteName  storedText   `json:"tournee"`
	RouteCode  storedText   `json:"codeTournee"`
	DriverName storedText   `json:"chauffeur"`
	DriverCode storedText   `json:"codeChauffeur"`
	Date       storedText   `json:"date"`
	Km         storedNumber `json:"km"`
	TimeSlot   *storedText  `json:"horaire"`
	Comment    storedText   `json:"commentaire"`
	Note       storedText   `json:"note"`
	CreatedAt  storedText   `json:"createdAt"`
}

// UnmarshalJSON implements json.Unmarshaler. Fields written by other tools
// as numbers or booleans are read back as text; a km that is not a number
// reads as null.
func (r *MileageRecord) UnmarshalJSON(data []byte) error {
	var in storedRecord
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = MileageRecord{
		Type:       RecordType(in.Type),
		RouteID:    in.RouteID.ptr(),
		Site:       string(in.Site),
		SiteCode:   string(in.SiteCode),
		RouteName:  string(in.RouteName),
		RouteCode:  string(in.RouteCode),
		DriverName: string(in.DriverName),
		DriverCode: string(in.DriverCode),
		Date:       string(in.Date),
		Km:         in.Km.value,
		TimeSlot:   in.TimeSlot.ptr(),
		Comment:    string(in.Comment),
		Note:       string(in.Note),
		CreatedAt:  string(in.CreatedAt),
	}
	return nil
}
