package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/froz-husain/kmstore/internal/errors"
	"github.com/froz-husain/kmstore/internal/keys"
	"github.com/froz-husain/kmstore/internal/metrics"
	"github.com/froz-husain/kmstore/internal/model"
	"github.com/froz-husain/kmstore/internal/store"
	"github.com/froz-husain/kmstore/internal/transport"
	"github.com/froz-husain/kmstore/internal/validation"
	"github.com/froz-husain/kmstore/internal/writequeue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds record service settings
type Config struct {
	// YearReadConcurrency caps the monthly reads of ReadYear running at once.
	// 1 reads the months one after another.
	YearReadConcurrency int
	// IdempotencyTTL is how long an idempotency key is remembered.
	IdempotencyTTL time.Duration
}

// RecordService stores mileage records in monthly partitions and maintains
// the route registry. Every read-modify-write of a remote file runs inside
// the write queue slot of its partition.
type RecordService struct {
	client      transport.Client
	resolver    *keys.Resolver
	queue       *writequeue.Queue
	idempotency store.IdempotencyStore
	validator   *validation.Validator
	cfg         Config
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewRecordService creates a new record service. idempotency and m may be nil.
func NewRecordService(
	client transport.Client,
	resolver *keys.Resolver,
	queue *writequeue.Queue,
	idempotency store.IdempotencyStore,
	cfg *Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RecordService {
	c := *cfg
	if c.YearReadConcurrency <= 0 {
		c.YearReadConcurrency = 1
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	return &RecordService{
		client:      client,
		resolver:    resolver,
		queue:       queue,
		idempotency: idempotency,
		validator:   validation.NewValidator(),
		cfg:         c,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// BaseDir returns the remote base directory.
func (s *RecordService) BaseDir() string {
	return s.resolver.BaseDir()
}

// PendingWrites returns the number of partitions with queued writes.
func (s *RecordService) PendingWrites() int {
	return s.queue.Pending()
}

// Ping checks that the backend is reachable and the base directory exists.
func (s *RecordService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// AppendReading validates a mileage reading and appends it to the monthly
// partition of its site.
func (s *RecordService) AppendReading(ctx context.Context, in *model.ReadingInput) (result *model.AppendResult, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("append_reading", start, err) }()

	if err := s.validator.ValidateReading(in); err != nil {
		s.logger.Warn("Reading validation failed",
			zap.String("site", in.Site),
			zap.String("date", in.Date),
			zap.Error(err))
		return nil, err
	}

	day := validation.TruncateDate(in.Date)
	slot := validation.SanitizeTimeSlot(in.TimeSlot)
	record := &model.MileageRecord{
		Type:       model.RecordTypeReading,
		RouteID:    validation.SanitizeRouteID(in.RouteID),
		Site:       in.Site,
		SiteCode:   siteCodeOrSite(in.SiteCode, in.Site),
		RouteName:  in.RouteName,
		RouteCode:  in.RouteCode,
		DriverName: in.DriverName,
		DriverCode: in.DriverCode,
		Date:       day,
		Km:         in.Km,
		TimeSlot:   &slot,
		Comment:    validation.SanitizeText(in.Comment),
		Note:       "",
		CreatedAt:  s.timestamp(),
	}

	result, err = s.appendRecord(ctx, record, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !result.Duplicate {
		s.logger.Info("Reading saved",
			zap.String("site_code", record.SiteCode),
			zap.String("route_code", record.RouteCode),
			zap.String("date", record.Date),
			zap.Float64("km", *record.Km))
	}
	return result, nil
}

// AppendAbsence validates a driver absence and appends it to the monthly
// partition of its site.
func (s *RecordService) AppendAbsence(ctx context.Context, in *model.AbsenceInput) (result *model.AppendResult, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("append_absence", start, err) }()

	if err := s.validator.ValidateAbsence(in); err != nil {
		s.logger.Warn("Absence validation failed",
			zap.String("site", in.Site),
			zap.String("route_code", in.RouteCode),
			zap.Error(err))
		return nil, err
	}

	record := &model.MileageRecord{
		Type:       model.RecordTypeAbsence,
		RouteID:    nil,
		Site:       in.Site,
		SiteCode:   siteCodeOrSite(in.SiteCode, in.Site),
		RouteName:  in.RouteName,
		RouteCode:  in.RouteCode,
		DriverName: in.DriverName,
		DriverCode: in.DriverCode,
		Date:       validation.TruncateDate(in.Date),
		Km:         nil,
		TimeSlot:   nil,
		Comment:    "",
		Note:       validation.SanitizeText(in.Note),
		CreatedAt:  s.timestamp(),
	}

	result, err = s.appendRecord(ctx, record, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !result.Duplicate {
		s.logger.Info("Absence saved",
			zap.String("site_code", record.SiteCode),
			zap.String("route_code", record.RouteCode),
			zap.String("date", record.Date))
	}
	return result, nil
}

func (s *RecordService) appendRecord(ctx context.Context, record *model.MileageRecord, idempotencyKey string) (*model.AppendResult, error) {
	key := keys.MonthKey(record.SiteCode, keys.YearMonth(record.Date, s.now()))
	path := s.resolver.Path(key)
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	entry, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Internal("failed to encode record", err)
	}

	result := &model.AppendResult{Record: record, Path: path}
	err = s.queue.Do(ctx, key.String(), func(ctx context.Context) error {
		if s.seen(ctx, idempotencyKey) {
			result.Duplicate = true
			return nil
		}

		existing, err := s.readEntries(ctx, path)
		if err != nil {
			return err
		}
		existing = append(existing, entry)

		if err := s.client.WriteJSON(ctx, path, existing); err != nil {
			return err
		}
		s.metrics.RecordPartitionSize(len(existing))

		s.remember(ctx, idempotencyKey, key, record.CreatedAt)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to append record",
			zap.String("partition", key.String()),
			zap.String("path", path),
			zap.Error(err))
		return nil, err
	}

	if result.Duplicate {
		s.metrics.RecordDuplicate()
		s.logger.Info("Skipped duplicate submission",
			zap.String("partition", key.String()),
			zap.String("idempotency_key", idempotencyKey))
	}
	return result, nil
}

// seen reports whether an append with this idempotency key already happened.
// Store failures are logged and treated as unseen.
func (s *RecordService) seen(ctx context.Context, idempotencyKey string) bool {
	if s.idempotency == nil || idempotencyKey == "" {
		return false
	}
	_, err := s.idempotency.Get(ctx, idempotencyKey)
	if err == nil {
		return true
	}
	if !stderrors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Idempotency lookup failed, appending anyway",
			zap.String("idempotency_key", idempotencyKey),
			zap.Error(err))
	}
	return false
}

func (s *RecordService) remember(ctx context.Context, idempotencyKey string, key keys.PartitionKey, createdAt string) {
	if s.idempotency == nil || idempotencyKey == "" {
		return
	}
	rec := &store.IdempotencyRecord{Partition: key.String(), CreatedAt: createdAt}
	if err := s.idempotency.Set(ctx, idempotencyKey, rec, s.cfg.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to record idempotency key",
			zap.String("idempotency_key", idempotencyKey),
			zap.Error(err))
	}
}

// ReadMonth returns the records of one monthly partition, oldest first.
func (s *RecordService) ReadMonth(ctx context.Context, site, yearMonth string) (records []model.MileageRecord, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("read_month", start, err) }()

	if strings.TrimSpace(site) == "" {
		return nil, errors.MissingField("agence")
	}
	if err := s.validator.ValidateYearMonth(yearMonth); err != nil {
		return nil, err
	}
	return s.readMonth(ctx, site, yearMonth)
}

func (s *RecordService) readMonth(ctx context.Context, site, yearMonth string) ([]model.MileageRecord, error) {
	path := s.resolver.Path(keys.MonthKey(strings.TrimSpace(site), yearMonth))
	entries, err := s.readEntries(ctx, path)
	if err != nil {
		return nil, err
	}

	records := make([]model.MileageRecord, 0, len(entries))
	for i, entry := range entries {
		var r model.MileageRecord
		if err := json.Unmarshal(entry, &r); err != nil {
			s.logger.Warn("Skipping malformed record",
				zap.String("path", path),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// ReadYear returns the records of the twelve months of a year in month order.
// A month that cannot be read is logged and contributes nothing.
func (s *RecordService) ReadYear(ctx context.Context, site, year string) (records []model.MileageRecord, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("read_year", start, err) }()

	if strings.TrimSpace(site) == "" {
		return nil, errors.MissingField("agence")
	}
	if year == "" {
		year = s.now().UTC().Format("2006")
	}
	if err := s.validator.ValidateYear(year); err != nil {
		return nil, err
	}

	var months [12][]model.MileageRecord
	var g errgroup.Group
	g.SetLimit(s.cfg.YearReadConcurrency)
	for i := range months {
		i := i
		ym := fmt.Sprintf("%s-%02d", year, i+1)
		g.Go(func() error {
			recs, err := s.readMonth(ctx, site, ym)
			if err != nil {
				s.logger.Error("Month read failed, skipping",
					zap.String("site", site),
					zap.String("period", ym),
					zap.Error(err))
				return nil
			}
			months[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	records = []model.MileageRecord{}
	for _, m := range months {
		records = append(records, m...)
	}
	return records, nil
}

// ReadDay returns the records of one calendar day that match filter.
func (s *RecordService) ReadDay(ctx context.Context, site, date string, filter model.DayFilter) (records []model.MileageRecord, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("read_day", start, err) }()

	if strings.TrimSpace(site) == "" {
		return nil, errors.MissingField("agence")
	}
	if strings.TrimSpace(date) == "" {
		return nil, errors.MissingField("date")
	}
	day, err := s.validator.ValidateDate(date)
	if err != nil {
		return nil, err
	}

	month, err := s.readMonth(ctx, site, keys.YearMonth(day, s.now()))
	if err != nil {
		return nil, err
	}

	filter.RouteID = strings.TrimSpace(filter.RouteID)
	filter.RouteCode = strings.TrimSpace(filter.RouteCode)
	filter.DriverCode = strings.TrimSpace(filter.DriverCode)

	records = []model.MileageRecord{}
	for i := range month {
		if month[i].Day() == day && filter.Matches(&month[i]) {
			records = append(records, month[i])
		}
	}
	return records, nil
}

// ListSites returns the site codes that have a folder under the base directory.
func (s *RecordService) ListSites(ctx context.Context) (sites []string, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("list_sites", start, err) }()

	entries, err := s.client.List(ctx, s.resolver.BaseDir())
	if err != nil {
		return nil, err
	}

	sites = []string{}
	for _, e := range entries {
		if e.IsDir && !strings.HasPrefix(e.Name, ".") {
			sites = append(sites, e.Name)
		}
	}
	sort.Strings(sites)
	return sites, nil
}

// ListPeriods returns the YYYY-MM periods stored for a site.
func (s *RecordService) ListPeriods(ctx context.Context, site string) (periods []string, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation("list_periods", start, err) }()

	if strings.TrimSpace(site) == "" {
		return nil, errors.MissingField("agence")
	}

	entries, err := s.client.List(ctx, s.resolver.SiteDir(site))
	if err != nil {
		return nil, err
	}

	periods = []string{}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if p, ok := keys.PeriodFromFile(e.Name); ok {
			periods = append(periods, p)
		}
	}
	sort.Strings(periods)
	return periods, nil
}

// readEntries loads a partition as raw entries so that a rewrite keeps
// fields and ordering exactly as stored. An absent file, or one that does
// not hold an array, reads as empty.
func (s *RecordService) readEntries(ctx context.Context, path string) ([]json.RawMessage, error) {
	raw, err := s.client.ReadJSON(ctx, path)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []json.RawMessage{}, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		s.logger.Warn("Remote file does not hold an array, reading it as empty",
			zap.String("path", path))
		return []json.RawMessage{}, nil
	}
	return entries, nil
}

func (s *RecordService) timestamp() string {
	return s.now().UTC().Format(model.CreatedAtLayout)
}

func siteCodeOrSite(siteCode, site string) string {
	if strings.TrimSpace(siteCode) != "" {
		return siteCode
	}
	return site
}
