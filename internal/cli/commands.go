package cli

import (
	"github.com/froz-husain/kmstore/internal/model"
)

type PingCmd struct{}

func (c *PingCmd) Run(ctx *Context) error {
	if err := ctx.Store.Ping(ctx.Ctx); err != nil {
		return err
	}
	return ctx.Print(map[string]interface{}{"success": true, "dir": ctx.Store.BaseDir()})
}

type SitesCmd struct{}

func (c *SitesCmd) Run(ctx *Context) error {
	sites, err := ctx.Store.ListSites(ctx.Ctx)
	if err != nil {
		return err
	}
	return ctx.Print(sites)
}

type PeriodsCmd struct {
	Site string `arg:"" help:"Site label or code."`
}

func (c *PeriodsCmd) Run(ctx *Context) error {
	periods, err := ctx.Store.ListPeriods(ctx.Ctx, c.Site)
	if err != nil {
		return err
	}
	return ctx.Print(periods)
}

type MonthCmd struct {
	Site  string `arg:"" help:"Site label or code."`
	Month string `arg:"" help:"Period as YYYY-MM."`
}

func (c *MonthCmd) Run(ctx *Context) error {
	records, err := ctx.Store.ReadMonth(ctx.Ctx, c.Site, c.Month)
	if err != nil {
		return err
	}
	return ctx.Print(records)
}

type YearCmd struct {
	Site string `arg:"" help:"Site label or code."`
	Year string `arg:"" optional:"" help:"Year as YYYY (defaults to the current year)."`
}

func (c *YearCmd) Run(ctx *Context) error {
	records, err := ctx.Store.ReadYear(ctx.Ctx, c.Site, c.Year)
	if err != nil {
		return err
	}
	return ctx.Print(records)
}

type DayCmd struct {
	Site   string `arg:"" help:"Site label or code."`
	Date   string `arg:"" help:"Day as YYYY-MM-DD."`
	ID     string `help:"Only records of this route identifier."`
	Route  string `help:"Only records of this route code."`
	Driver string `help:"Only records of this driver code."`
}

func (c *DayCmd) Run(ctx *Context) error {
	records, err := ctx.Store.ReadDay(ctx.Ctx, c.Site, c.Date, model.DayFilter{
		RouteID:    c.ID,
		RouteCode:  c.Route,
		DriverCode: c.Driver,
	})
	if err != nil {
		return err
	}
	return ctx.Print(records)
}

type RegistryCmd struct {
	Site string `help:"Only assignments of this site (label or code)."`
}

func (c *RegistryCmd) Run(ctx *Context) error {
	rows, err := ctx.Store.ReadRegistry(ctx.Ctx, c.Site)
	if err != nil {
		return err
	}
	return ctx.Print(rows)
}

type NewIDCmd struct {
	Site  string `arg:"" help:"Site label."`
	Route string `arg:"" help:"Route code."`
}

func (c *NewIDCmd) Run(ctx *Context) error {
	id, err := ctx.Store.AssignNewRouteID(ctx.Ctx, c.Site, c.Route)
	if err != nil {
		return err
	}
	return ctx.Print(map[string]interface{}{"success": true, "id": id})
}

type DriverCmd struct {
	ID   string `arg:"" help:"Route identifier."`
	Name string `arg:"" help:"Driver name."`
	Code string `arg:"" help:"Driver code."`
}

func (c *DriverCmd) Run(ctx *Context) error {
	row, err := ctx.Store.AssignDriver(ctx.Ctx, c.ID, c.Name, c.Code)
	if err != nil {
		return err
	}
	return ctx.Print(row)
}

// RecordFlags are shared by save and absent.
type RecordFlags struct {
	Site           string `required:"" help:"Site label."`
	SiteCode       string `help:"Site code (defaults to the label)."`
	RouteName      string `help:"Route name."`
	Route          string `help:"Route code."`
	DriverName     string `help:"Driver name."`
	Driver         string `help:"Driver code."`
	Date           string `required:"" help:"Day as YYYY-MM-DD."`
	IdempotencyKey string `help:"Skip the append if this key was already recorded."`
}

type SaveCmd struct {
	RecordFlags `embed:""`

	Km      float64 `required:"" help:"Odometer reading."`
	Slot    string  `help:"Time slot."`
	Comment string  `help:"Free comment."`
	RouteID string  `help:"Route identifier."`
}

func (c *SaveCmd) Run(ctx *Context) error {
	km := c.Km
	result, err := ctx.Store.AppendReading(ctx.Ctx, &model.ReadingInput{
		RouteID:        c.RouteID,
		Site:           c.Site,
		SiteCode:       c.SiteCode,
		RouteName:      c.RouteName,
		RouteCode:      c.Route,
		DriverName:     c.DriverName,
		DriverCode:     c.Driver,
		Date:           c.Date,
		Km:             &km,
		TimeSlot:       c.Slot,
		Comment:        c.Comment,
		IdempotencyKey: c.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return ctx.Print(appendOutput(result))
}

type AbsentCmd struct {
	RecordFlags `embed:""`

	Note string `help:"Absence note."`
}

func (c *AbsentCmd) Run(ctx *Context) error {
	result, err := ctx.Store.AppendAbsence(ctx.Ctx, &model.AbsenceInput{
		Site:           c.Site,
		SiteCode:       c.SiteCode,
		RouteName:      c.RouteName,
		RouteCode:      c.Route,
		DriverName:     c.DriverName,
		DriverCode:     c.Driver,
		Date:           c.Date,
		Note:           c.Note,
		IdempotencyKey: c.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	return ctx.Print(appendOutput(result))
}

func appendOutput(result *model.AppendResult) map[string]interface{} {
	return map[string]interface{}{
		"success":   true,
		"duplicate": result.Duplicate,
		"path":      result.Path,
		"record":    result.Record,
	}
}
