// Package cli implements the kmctl admin commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/froz-husain/kmstore/internal/model"
	"gopkg.in/yaml.v3"
)

// Store is the part of the record service the commands use.
type Store interface {
	AppendReading(ctx context.Context, in *model.ReadingInput) (*model.AppendResult, error)
	AppendAbsence(ctx context.Context, in *model.AbsenceInput) (*model.AppendResult, error)
	ReadMonth(ctx context.Context, site, yearMonth string) ([]model.MileageRecord, error)
	ReadYear(ctx context.Context, site, year string) ([]model.MileageRecord, error)
	ReadDay(ctx context.Context, site, date string, filter model.DayFilter) ([]model.MileageRecord, error)
	ReadRegistry(ctx context.Context, site string) ([]model.RouteAssignment, error)
	AssignNewRouteID(ctx context.Context, site, routeCode string) (string, error)
	AssignDriver(ctx context.Context, routeID, driverName, driverCode string) (*model.RouteAssignment, error)
	ListSites(ctx context.Context) ([]string, error)
	ListPeriods(ctx context.Context, site string) ([]string, error)
	Ping(ctx context.Context) error
	BaseDir() string
}

// CLI is the kmctl command line.
type CLI struct {
	Config   string `help:"Config file path." type:"path" env:"CONFIG_PATH"`
	Output   string `help:"Output format." enum:"json,yaml" default:"json" short:"o"`
	LogLevel string `help:"Log level." enum:"debug,info,warn,error" default:"warn"`

	Ping     PingCmd     `cmd:"" help:"Check the backend and create the base directory."`
	Sites    SitesCmd    `cmd:"" help:"List site codes."`
	Periods  PeriodsCmd  `cmd:"" help:"List the months stored for a site."`
	Month    MonthCmd    `cmd:"" help:"Show the records of one month."`
	Year     YearCmd     `cmd:"" help:"Show the records of one year."`
	Day      DayCmd      `cmd:"" help:"Show the records of one day."`
	Registry RegistryCmd `cmd:"" help:"Show route assignments."`
	Newid    NewIDCmd    `cmd:"" name:"newid" help:"Assign a new identifier to a route."`
	Driver   DriverCmd   `cmd:"" help:"Assign a driver to a route identifier."`
	Save     SaveCmd     `cmd:"" help:"Append a mileage reading."`
	Absent   AbsentCmd   `cmd:"" help:"Append a driver absence."`
}

// Context is passed to every command's Run method.
type Context struct {
	Ctx    context.Context
	Store  Store
	Out    io.Writer
	Output string
}

// Print writes v as JSON or YAML depending on the selected output.
// YAML keeps the key order of the JSON encoding.
func (c *Context) Print(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	if c.Output != "yaml" {
		_, err = fmt.Fprintln(c.Out, string(data))
		return err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("failed to convert output: %w", err)
	}
	enc := yaml.NewEncoder(c.Out)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}
