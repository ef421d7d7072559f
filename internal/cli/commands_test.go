package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/froz-husain/kmstore/internal/bootstrap"
	"github.com/froz-husain/kmstore/internal/config"
	"github.com/froz-husain/kmstore/internal/errors"
	"github.com/froz-husain/kmstore/internal/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	cfg := &config.Config{
		Remote: config.RemoteConfig{
			Backend: "memory",
			BaseDir: "/kilometrage",
			Timeout: time.Second,
		},
		Store:       config.StoreConfig{YearReadConcurrency: 2},
		Idempotency: config.IdempotencyConfig{Backend: "memory", TTL: time.Hour, MaxEntries: 100},
	}
	app, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{Scratch: afero.NewMemMapFs()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app.Service
}

func run(t *testing.T, store Store, args ...string) (string, error) {
	t.Helper()
	var root CLI
	parser, err := kong.New(&root,
		kong.Name("kmctl"),
		kong.Exit(func(int) { t.Fatalf("unexpected exit for %v", args) }),
	)
	require.NoError(t, err)

	kctx, err := parser.Parse(args)
	if err != nil {
		return "", err
	}

	var out bytes.Buffer
	err = kctx.Run(&Context{
		Ctx:    context.Background(),
		Store:  store,
		Out:    &out,
		Output: root.Output,
	})
	return out.String(), err
}

func TestSaveThenReadMonth(t *testing.T) {
	store := newTestStore(t)

	out, err := run(t, store, "save",
		"--site", "Gleize", "--route", "T01", "--driver", "D7", "--driver-name", "Rémi",
		"--date", "2026-03-04", "--km", "12345", "--slot", "matin")
	require.NoError(t, err)

	var saved map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &saved))
	assert.Equal(t, true, saved["success"])
	assert.Equal(t, false, saved["duplicate"])
	assert.Contains(t, saved["path"], "2026-03")

	out, err = run(t, store, "month", "Gleize", "2026-03")
	require.NoError(t, err)

	var records []model.MileageRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, model.RecordTypeReading, records[0].Type)
	assert.Equal(t, "T01", records[0].RouteCode)
	require.NotNil(t, records[0].Km)
	assert.Equal(t, 12345.0, *records[0].Km)

	out, err = run(t, store, "periods", "GLEIZE")
	require.NoError(t, err)
	assert.JSONEq(t, `["2026-03"]`, out)

	out, err = run(t, store, "sites")
	require.NoError(t, err)
	assert.JSONEq(t, `["GLEIZE"]`, out)
}

func TestSaveIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	args := []string{"save", "--site", "Gleize", "--date", "2026-03-04", "--km", "10", "--idempotency-key", "k-1"}

	_, err := run(t, store, args...)
	require.NoError(t, err)

	out, err := run(t, store, args...)
	require.NoError(t, err)
	assert.Contains(t, out, `"duplicate": true`)

	out, err = run(t, store, "month", "Gleize", "2026-03")
	require.NoError(t, err)
	var records []model.MileageRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.Len(t, records, 1)
}

func TestAbsentAndDayFilter(t *testing.T) {
	store := newTestStore(t)

	_, err := run(t, store, "absent", "--site", "Gleize", "--route", "T01", "--driver", "D7",
		"--date", "2026-03-04", "--note", "malade")
	require.NoError(t, err)
	_, err = run(t, store, "save", "--site", "Gleize", "--route", "T02", "--date", "2026-03-04", "--km", "5")
	require.NoError(t, err)

	out, err := run(t, store, "day", "Gleize", "2026-03-04", "--route", "T01")
	require.NoError(t, err)

	var records []model.MileageRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, model.RecordTypeAbsence, records[0].Type)
	assert.Equal(t, "malade", records[0].Note)
}

func TestNewIDAndDriver(t *testing.T) {
	store := newTestStore(t)

	_, err := run(t, store, "save", "--site", "Gleize", "--route", "T01", "--date", "2026-03-04", "--km", "5")
	require.NoError(t, err)

	out, err := run(t, store, "newid", "Gleize", "T01")
	require.NoError(t, err)
	var created struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.True(t, created.Success)
	require.NotEmpty(t, created.ID)

	out, err = run(t, store, "driver", created.ID, "Rémi", "D7")
	require.NoError(t, err)
	var row model.RouteAssignment
	require.NoError(t, json.Unmarshal([]byte(out), &row))
	assert.Equal(t, "D7", row.DriverCode)
	assert.Equal(t, created.ID, row.RouteID)

	out, err = run(t, store, "registry", "--site", "Gleize")
	require.NoError(t, err)
	var rows []model.RouteAssignment
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.NotEmpty(t, rows)
}

func TestYAMLOutput(t *testing.T) {
	store := newTestStore(t)

	out, err := run(t, store, "--output", "yaml", "ping")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, "/kilometrage", decoded["dir"])
	assert.Contains(t, out, "success: true")
}

func TestValidationErrorsPropagate(t *testing.T) {
	store := newTestStore(t)

	_, err := run(t, store, "save", "--site", "Gleize", "--date", "04/03/2026", "--km", "5")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidDate, errors.GetCode(err))

	_, err = run(t, store, "month", "Gleize", "../2026")
	require.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	store := newTestStore(t)

	_, err := run(t, store, "save", "--site", "Gleize", "--date", "2026-03-04")
	assert.Error(t, err, "km is required")

	_, err = run(t, store, "--output", "xml", "sites")
	assert.Error(t, err)
}
