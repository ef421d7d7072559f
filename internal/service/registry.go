package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/froz-husain/kmstore/internal/errors"
	"github.com/froz-husain/kmstore/internal/keys"
	"github.com/froz-husain/kmstore/internal/model"
	"go.uber.org/zap"
)

// RegistryTransform computes the new registry from the current one. It must
// not keep references to its argument. Returning an error aborts the update
// without writing.
type RegistryTransform func(rows []model.RouteAssignment) ([]model.RouteAssignment, error)

// UpdateRegistry applies transform to the route registry under the registry
// write slot and returns what was written.
func (s *RecordService) UpdateRegistry(ctx context.Context, transform RegistryTransform) (rows []model.RouteAssignment, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("update_registry", start, err) }()

	key := keys.RegistryKey()
	path := s.resolver.Path(key)

	err = s.queue.Do(ctx, key.String(), func(ctx context.Context) error {
		current, err := s.loadRegistry(ctx, path, true)
		if err != nil {
			return err
		}

		updated, err := transform(current)
		if err != nil {
			return err
		}
		if updated == nil {
			updated = []model.RouteAssignment{}
		}

		if err := s.client.WriteJSON(ctx, path, updated); err != nil {
			return err
		}
		rows = updated
		return nil
	})
	if err != nil {
		if !errors.IsValidation(err) && errors.GetCode(err) != errors.ErrCodeNotFound {
			s.logger.Error("Failed to update registry", zap.String("path", path), zap.Error(err))
		}
		return nil, err
	}
	return rows, nil
}

// ReadRegistry returns the registry rows, restricted to a site when site is
// not empty. The site matches either the site name or the site code,
// ignoring case.
func (s *RecordService) ReadRegistry(ctx context.Context, site string) (rows []model.RouteAssignment, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("read_registry", start, err) }()

	all, err := s.loadRegistry(ctx, s.resolver.RegistryPath(), false)
	if err != nil {
		return nil, err
	}

	site = strings.TrimSpace(site)
	if site == "" {
		return all, nil
	}

	rows = []model.RouteAssignment{}
	for _, r := range all {
		if sameSite(&r, site) {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

// AssignNewRouteID issues the next identifier of a route, typically when its
// driver changes, and returns it.
func (s *RecordService) AssignNewRouteID(ctx context.Context, site, routeCode string) (string, error) {
	if err := s.validator.ValidateRouteRequest(site, routeCode); err != nil {
		s.logger.Warn("Route request validation failed",
			zap.String("site", site),
			zap.String("route_code", routeCode),
			zap.Error(err))
		return "", err
	}

	var newID string
	_, err := s.UpdateRegistry(ctx, func(rows []model.RouteAssignment) ([]model.RouteAssignment, error) {
		var updated []model.RouteAssignment
		updated, newID = ReassignRoute(rows, site, routeCode, s.timestamp())
		return updated, nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Route identifier issued",
		zap.String("id", newID),
		zap.String("route_code", routeCode),
		zap.String("site", site))
	return newID, nil
}

// AssignDriver sets the driver of the registry row identified by routeID.
func (s *RecordService) AssignDriver(ctx context.Context, routeID, driverName, driverCode string) (*model.RouteAssignment, error) {
	routeID = strings.TrimSpace(routeID)
	if routeID == "" {
		return nil, errors.MissingField("id")
	}

	var assigned model.RouteAssignment
	_, err := s.UpdateRegistry(ctx, func(rows []model.RouteAssignment) ([]model.RouteAssignment, error) {
		found := false
		updated := make([]model.RouteAssignment, len(rows))
		copy(updated, rows)
		for i := range updated {
			if strings.TrimSpace(updated[i].RouteID) != routeID {
				continue
			}
			updated[i].DriverName = driverName
			updated[i].DriverCode = driverCode
			assigned = updated[i]
			found = true
		}
		if !found {
			return nil, errors.NotFound("route", routeID)
		}
		return updated, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Driver assigned",
		zap.String("id", routeID),
		zap.String("driver_code", driverCode))
	return &assigned, nil
}

// ReassignRoute computes the registry after issuing a new identifier for
// routeCode at site. The new identifier is {routeCode}-{n} with n one above
// the highest numeric suffix among rows of that route code, zero padded to
// three digits. Active rows of that route at that site get their
// reassignment time set to now, and a new row without driver is appended.
func ReassignRoute(rows []model.RouteAssignment, site, routeCode, now string) ([]model.RouteAssignment, string) {
	routeCode = strings.TrimSpace(routeCode)
	site = strings.TrimSpace(site)

	maxSeq := 0
	var ref *model.RouteAssignment
	var fallback *model.RouteAssignment
	for i := range rows {
		if strings.TrimSpace(rows[i].RouteCode) != routeCode {
			continue
		}
		if seq, ok := routeSequence(rows[i].RouteID); ok && seq > maxSeq {
			maxSeq = seq
		}
		if fallback == nil {
			fallback = &rows[i]
		}
		if ref == nil && sameSite(&rows[i], site) {
			ref = &rows[i]
		}
	}
	if ref == nil {
		ref = fallback
	}
	newID := fmt.Sprintf("%s-%03d", routeCode, maxSeq+1)

	next := model.RouteAssignment{
		Site:       site,
		SiteCode:   site,
		RouteCode:  routeCode,
		RouteID:    newID,
		DriverName: "",
		DriverCode: "",
	}
	if ref != nil {
		if ref.Site != "" {
			next.Site = ref.Site
		}
		if ref.SiteCode != "" {
			next.SiteCode = ref.SiteCode
		}
		next.RouteName = ref.RouteName
	}

	updated := make([]model.RouteAssignment, 0, len(rows)+1)
	for _, r := range rows {
		if r.IsActive() && strings.TrimSpace(r.RouteCode) == routeCode && sameSite(&r, site) {
			stamp := now
			r.LastReassignedAt = &stamp
		}
		updated = append(updated, r)
	}
	updated = append(updated, next)
	return updated, newID
}

// routeSequence parses the leading digits after the last dash of a route id.
func routeSequence(id string) (int, bool) {
	if i := strings.LastIndex(id, "-"); i >= 0 {
		id = id[i+1:]
	}
	id = strings.TrimLeft(id, " \t")
	end := 0
	for end < len(id) && id[end] >= '0' && id[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(id[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func sameSite(r *model.RouteAssignment, site string) bool {
	return strings.EqualFold(r.Site, site) || strings.EqualFold(r.SiteCode, site)
}

// loadRegistry reads the registry. A missing file or one that does not hold
// an array reads as empty. With strict set, a malformed row fails the read so
// that a rewrite cannot drop it; otherwise such rows are skipped.
func (s *RecordService) loadRegistry(ctx context.Context, path string, strict bool) ([]model.RouteAssignment, error) {
	entries, err := s.readEntries(ctx, path)
	if err != nil {
		return nil, err
	}

	rows := make([]model.RouteAssignment, 0, len(entries))
	for i, entry := range entries {
		var r model.RouteAssignment
		if err := json.Unmarshal(entry, &r); err != nil {
			if strict {
				return nil, errors.Internal(fmt.Sprintf("registry row %d is malformed", i), err).
					WithDetail("path", path)
			}
			s.logger.Warn("Skipping malformed registry row",
				zap.String("path", path),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		rows = append(rows, r)
	}
	return rows, nil
}
