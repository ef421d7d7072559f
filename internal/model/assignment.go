package model

import (
	"bytes"
	"encoding/json"
	"sort"
)

// RouteAssignment is one row of the route registry (params.json).
// Rows are never deleted: reassigning a route appends a new row and stamps
// LastReassignedAt on the previous one.
type RouteAssignment struct {
	Site             string  `json:"agence"`
	SiteCode         string  `json:"codeAgence"`
	RouteName        string  `json:"tournee"`
	RouteCode        string  `json:"codeTournee"`
	DriverName       string  `json:"transporteur"`
	DriverCode       string  `json:"codeTransporteur"`
	RouteID          string  `json:"id"`
	LastReassignedAt *string `json:"dernierRemplacement"`

	// Extra holds keys this type does not know about so that a rewrite of
	// the registry keeps them.
	Extra map[string]json.RawMessage `json:"-"`
}

type routeAssignmentFields RouteAssignment

// storedAssignment is the tolerant shape of a params.json row: codes and ids
// written as numbers are read back as their text.
type storedAssignment struct {
	Site             storedText  `json:"agence"`
	SiteCode         storedText  `json:"codeAgence"`
	RouteName        storedText  `json:"tournee"`
	RouteCode        storedText  `json:"codeTournee"`
	DriverName       storedText  `json:"transporteur"`
	DriverCode       storedText  `json:"codeTransporteur"`
	RouteID          storedText  `json:"id"`
	LastReassignedAt *storedText `json:"dernierRemplacement"`
}

var assignmentKeys = []string{
	"agence", "codeAgence", "tournee", "codeTournee",
	"transporteur", "codeTransporteur", "id", "dernierRemplacement",
}

// UnmarshalJSON implements json.Unmarshaler. Only a row that is not an
// object fails.
func (a *RouteAssignment) UnmarshalJSON(data []byte) error {
	var row storedAssignment
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range assignmentKeys {
		delete(all, k)
	}

	*a = RouteAssignment{
		Site:             string(row.Site),
		SiteCode:         string(row.SiteCode),
		RouteName:        string(row.RouteName),
		RouteCode:        string(row.RouteCode),
		DriverName:       string(row.DriverName),
		DriverCode:       string(row.DriverCode),
		RouteID:          string(row.RouteID),
		LastReassignedAt: row.LastReassignedAt.optional(),
	}
	if len(all) > 0 {
		a.Extra = all
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Known fields come first, unknown
// ones follow in key order.
func (a RouteAssignment) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(routeAssignmentFields(a))
	if err != nil || len(a.Extra) == 0 {
		return known, err
	}

	extraKeys := make([]string, 0, len(a.Extra))
	for k := range a.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)

	var buf bytes.Buffer
	buf.Write(known[:len(known)-1])
	for _, k := range extraKeys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(a.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IsActive reports whether the row has not been superseded.
func (a *RouteAssignment) IsActive() bool {
	return a.LastReassignedAt == nil
}
