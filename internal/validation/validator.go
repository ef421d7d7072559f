package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/froz-husain/kmstore/internal/errors"
	"github.com/froz-husain/kmstore/internal/keys"
	"github.com/froz-husain/kmstore/internal/model"
)

const (
	// Size limits
	MaxFieldSize   = 256
	MaxCommentSize = 4096

	// DateLayout is the calendar-day layout of record dates
	DateLayout = "2006-01-02"
)

// Validator validates record store inputs
type Validator struct {
	maxFieldSize   int
	maxCommentSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxFieldSize:   MaxFieldSize,
		maxCommentSize: MaxCommentSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxFieldSize, maxCommentSize int) *Validator {
	return &Validator{
		maxFieldSize:   maxFieldSize,
		maxCommentSize: maxCommentSize,
	}
}

// ValidateReading validates a mileage reading
func (v *Validator) ValidateReading(in *model.ReadingInput) error {
	if strings.TrimSpace(in.Site) == "" {
		return errors.MissingField("agence")
	}
	if strings.TrimSpace(in.Date) == "" {
		return errors.MissingField("date")
	}
	if _, err := v.ValidateDate(in.Date); err != nil {
		return err
	}
	if err := v.ValidateOdometer(in.Km); err != nil {
		return err
	}

	fields := map[string]string{
		"id":            in.RouteID,
		"agence":        in.Site,
		"codeAgence":    in.SiteCode,
		"tournee":       in.RouteName,
		"codeTournee":   in.RouteCode,
		"chauffeur":     in.DriverName,
		"codeChauffeur": in.DriverCode,
		"horaire":       in.TimeSlot,
	}
	if err := v.validateFields(fields); err != nil {
		return err
	}
	return v.validateText("commentaire", in.Comment, v.maxCommentSize)
}

// ValidateAbsence validates a driver absence
func (v *Validator) ValidateAbsence(in *model.AbsenceInput) error {
	if strings.TrimSpace(in.Site) == "" {
		return errors.MissingField("agence")
	}
	if strings.TrimSpace(in.RouteCode) == "" {
		return errors.MissingField("codeTournee")
	}
	if strings.TrimSpace(in.Date) == "" {
		return errors.MissingField("date")
	}
	if _, err := v.ValidateDate(in.Date); err != nil {
		return err
	}

	fields := map[string]string{
		"agence":        in.Site,
		"codeAgence":    in.SiteCode,
		"tournee":       in.RouteName,
		"codeTournee":   in.RouteCode,
		"chauffeur":     in.DriverName,
		"codeChauffeur": in.DriverCode,
	}
	if err := v.validateFields(fields); err != nil {
		return err
	}
	return v.validateText("note", in.Note, v.maxCommentSize)
}

// ValidateDate checks that the first ten characters of date form a calendar
// day and returns that day.
func (v *Validator) ValidateDate(date string) (string, error) {
	day := TruncateDate(date)
	if _, err := time.Parse(DateLayout, day); err != nil {
		return "", errors.InvalidDate(date, "expected YYYY-MM-DD")
	}
	return day, nil
}

// ValidateOdometer checks that km is present, finite, non-negative and whole.
func (v *Validator) ValidateOdometer(km *float64) error {
	if km == nil {
		return errors.InvalidOdometer("null", "value is required")
	}
	value := *km
	formatted := strconv.FormatFloat(value, 'f', -1, 64)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.InvalidOdometer(formatted, "not a number")
	}
	if value < 0 {
		return errors.InvalidOdometer(formatted, "must not be negative")
	}
	if value != math.Trunc(value) {
		return errors.InvalidOdometer(formatted, "must be a whole number")
	}
	return nil
}

// ValidateYearMonth validates a YYYY-MM period.
func (v *Validator) ValidateYearMonth(ym string) error {
	if !keys.IsYearMonth(ym) {
		return errors.InvalidDate(ym, "expected YYYY-MM")
	}
	return nil
}

// ValidateYear validates a four digit year.
func (v *Validator) ValidateYear(year string) error {
	if len(year) != 4 {
		return errors.InvalidDate(year, "expected YYYY")
	}
	if _, err := strconv.Atoi(year); err != nil {
		return errors.InvalidDate(year, "expected YYYY")
	}
	return nil
}

// ValidateRouteRequest validates the inputs of a new route identifier.
func (v *Validator) ValidateRouteRequest(site, routeCode string) error {
	if strings.TrimSpace(site) == "" {
		return errors.MissingField("agence")
	}
	if strings.TrimSpace(routeCode) == "" {
		return errors.MissingField("codeTournee")
	}
	return v.validateFields(map[string]string{"agence": site, "codeTournee": routeCode})
}

func (v *Validator) validateFields(fields map[string]string) error {
	for name, value := range fields {
		if err := v.validateText(name, value, v.maxFieldSize); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateText(name, value string, limit int) error {
	if len(value) > limit {
		return errors.InvalidArgument(fmt.Sprintf("%s exceeds maximum size of %d bytes", name, limit), nil).
			WithDetail("field", name)
	}
	// Null bytes never make it into a partition file
	if strings.ContainsRune(value, 0) {
		return errors.InvalidArgument(fmt.Sprintf("%s cannot contain null bytes", name), nil).
			WithDetail("field", name)
	}
	return nil
}

// ParseOdometer decodes a km value sent either as a JSON number or as a
// numeric string. Missing, null and empty values decode to nil.
func ParseOdometer(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, errors.InvalidOdometer(string(raw), "not a number")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, errors.InvalidOdometer(text, "not a number")
	}
	return &value, nil
}

// TruncateDate keeps the calendar-day part of a date or timestamp.
func TruncateDate(date string) string {
	date = strings.TrimSpace(date)
	if len(date) > 10 {
		return date[:10]
	}
	return date
}

// SanitizeTimeSlot lower-cases and trims a time slot.
func SanitizeTimeSlot(slot string) string {
	return strings.ToLower(strings.TrimSpace(slot))
}

// SanitizeRouteID trims a route identifier, nil when nothing is left.
func SanitizeRouteID(id string) *string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return &id
}

// SanitizeText removes control characters other than tab and newline.
func SanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return -1
		}
		return r
	}, s)
}
