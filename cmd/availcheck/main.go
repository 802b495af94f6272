// Command availcheck manages availability rules stored in a SQLite database
// and reports their conflicts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cyp0633/staffavail/availability"
	"github.com/cyp0633/staffavail/conflict"
	"github.com/cyp0633/staffavail/internal/config"
	"github.com/cyp0633/staffavail/recurrence"
	"github.com/cyp0633/staffavail/storage"
	"github.com/cyp0633/staffavail/storage/sqlite"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// flagConfig holds the CLI flag values.
type flagConfig struct {
	configPath string
	database   string
	command    string

	establishment string
	name          string
	timezone      string
	member        string

	ruleID   string
	kind     string
	rule     string
	duration int
	start    string
	end      string

	status string
	ics    string
}

const usage = `commands:
  establishment  create an establishment (-establishment, -name, -tz)
  timeoff        record a time-off request (-member, -start, -end, -status)
  check          check a candidate rule without saving it
  create         check and save a rule
  update         check and replace rule -id
  delete         delete rule -id
  preview        list the occurrences of a candidate between -start and -end
  export         write the occurrences of rule -id as iCalendar to -ics
  import         create one rule per event of the iCalendar file -ics`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "availcheck:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for errors the caller can fix by changing the input.
func exitCode(err error) int {
	var cerr *conflict.Error
	if errors.As(err, &cerr) {
		if conflict.HTTPStatus(cerr.Type) < 500 {
			return 2
		}
		return 1
	}
	if storage.IsType(err, storage.ErrInvalidInput) || storage.IsType(err, storage.ErrNotFound) {
		return 2
	}
	return 1
}

func parseFlags(args []string, stderr io.Writer) (flagConfig, error) {
	var cfg flagConfig

	fs := flag.NewFlagSet("availcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: availcheck -command <command> [flags]")
		fmt.Fprintln(stderr, usage)
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.configPath, "config", "staffavail.yaml", "Path to config file")
	fs.StringVar(&cfg.database, "database", "", "SQLite database path (overrides config if set)")
	fs.StringVar(&cfg.command, "command", "check", "Command to run")
	fs.StringVar(&cfg.establishment, "establishment", "", "Establishment id")
	fs.StringVar(&cfg.name, "name", "", "Establishment name")
	fs.StringVar(&cfg.timezone, "tz", "", "Establishment IANA timezone")
	fs.StringVar(&cfg.member, "member", "", "Membership id")
	fs.StringVar(&cfg.ruleID, "id", "", "Rule id")
	fs.StringVar(&cfg.kind, "kind", "", "Rule kind: single or recurring (inferred when empty)")
	fs.StringVar(&cfg.rule, "rule", "", "Rule text, e.g. \"DTSTART:20240902T090000\\nRRULE:FREQ=WEEKLY;BYDAY=MO\"")
	fs.IntVar(&cfg.duration, "duration", 60, "Occurrence length in minutes")
	fs.StringVar(&cfg.start, "start", "", "Effective start, time-off start or window start (YYYY-MM-DD)")
	fs.StringVar(&cfg.end, "end", "", "Effective end, time-off end or window end (YYYY-MM-DD)")
	fs.StringVar(&cfg.status, "status", string(storage.StatusPending), "Time-off status")
	fs.StringVar(&cfg.ics, "ics", "", "iCalendar file to read or write (- for stdout)")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	conf, loadErr := config.Load(flags.configPath)
	if conf == nil {
		return fmt.Errorf("failed to load config: %w", loadErr)
	}
	if flags.database != "" {
		conf.Database.Path = flags.database
	}
	logger := conf.Log.Logger(stderr)
	if loadErr != nil {
		// First run in a read-only place: the defaults still work.
		logger.Warn("could not write default config", "path", flags.configPath, "error", loadErr)
	}
	logger.Debug("effective config",
		"database", conf.Database.Path,
		"forecast_window_days", conf.Conflict.ForecastWindowDays,
		"command", flags.command)

	store, err := sqlite.New(ctx, conf.Database.Path, sqlite.WithLogger(logger.With("component", "sqlite")))
	if err != nil {
		return err
	}
	defer store.Close()

	cache := conf.ScheduleCache()
	defer cache.Close()

	svc := availability.NewService(store,
		availability.WithLogger(logger),
		availability.WithForecastWindow(conf.ForecastWindow()),
		availability.WithScheduleCache(cache))

	a := &app{flags: flags, store: store, svc: svc, stdout: stdout, logger: logger}
	switch flags.command {
	case "establishment":
		return a.createEstablishment(ctx)
	case "timeoff":
		return a.createTimeOff(ctx)
	case "check":
		return a.check(ctx)
	case "create":
		return a.create(ctx)
	case "update":
		return a.update(ctx)
	case "delete":
		return a.svc.DeleteRule(ctx, flags.ruleID)
	case "preview":
		return a.preview(ctx)
	case "export":
		return a.export(ctx)
	case "import":
		return a.importRules(ctx)
	default:
		return fmt.Errorf("unknown command %q\n%s", flags.command, usage)
	}
}

type app struct {
	flags  flagConfig
	store  storage.Storage
	svc    *availability.Service
	stdout io.Writer
	logger *slog.Logger
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) createEstablishment(ctx context.Context) error {
	e := &storage.Establishment{ID: a.flags.establishment, Name: a.flags.name, Timezone: a.flags.timezone}
	if err := a.store.CreateEstablishment(ctx, e); err != nil {
		return err
	}
	return a.printJSON(map[string]string{"id": e.ID})
}

func (a *app) createTimeOff(ctx context.Context) error {
	start, err := recurrence.ParseDate(a.flags.start)
	if err != nil {
		return inputError("invalid -start", err)
	}
	end, err := recurrence.ParseDate(a.flags.end)
	if err != nil {
		return inputError("invalid -end", err)
	}
	req := &storage.TimeOffRequest{
		MembershipID: a.flags.member,
		StartDate:    start,
		EndDate:      end,
		Status:       storage.TimeOffStatus(a.flags.status),
	}
	if err := a.store.CreateTimeOff(ctx, req); err != nil {
		return err
	}
	return a.printJSON(map[string]string{"id": req.ID, "status": string(req.Status)})
}

// candidate builds the rule described by the flags.
func (a *app) candidate() (*storage.AvailabilityRule, error) {
	// Shells pass "\n" literally.
	text := strings.ReplaceAll(a.flags.rule, `\n`, "\n")
	kind := recurrence.InferKind(text)
	if a.flags.kind != "" {
		k, err := recurrence.ParseKind(a.flags.kind)
		if err != nil {
			return nil, inputError("invalid -kind", err)
		}
		kind = k
	}
	start, err := recurrence.ParseDate(a.flags.start)
	if err != nil {
		return nil, inputError("invalid -start", err)
	}

	rule := recurrence.Rule{
		Kind:            kind,
		Text:            text,
		DurationMinutes: a.flags.duration,
		EffectiveStart:  start,
	}
	if a.flags.end != "" {
		end, err := recurrence.ParseDate(a.flags.end)
		if err != nil {
			return nil, inputError("invalid -end", err)
		}
		rule.EffectiveEnd = mo.Some(end)
	}

	return &storage.AvailabilityRule{
		ID:              a.flags.ruleID,
		MembershipID:    a.flags.member,
		EstablishmentID: a.flags.establishment,
		Rule:            rule,
	}, nil
}

func (a *app) check(ctx context.Context) error {
	r, err := a.candidate()
	if err != nil {
		return err
	}
	res, err := a.svc.Check(ctx, r)
	if err != nil {
		return err
	}
	if err := a.printJSON(res); err != nil {
		return err
	}
	return res.Err()
}

func (a *app) create(ctx context.Context) error {
	r, err := a.candidate()
	if err != nil {
		return err
	}
	r.ID = ""
	res, err := a.svc.CreateRule(ctx, r)
	if err != nil {
		_ = a.printJSON(res)
		return err
	}
	return a.printJSON(map[string]any{"id": r.ID, "result": res})
}

func (a *app) update(ctx context.Context) error {
	r, err := a.candidate()
	if err != nil {
		return err
	}
	res, err := a.svc.UpdateRule(ctx, r)
	if err != nil {
		_ = a.printJSON(res)
		return err
	}
	return a.printJSON(map[string]any{"id": r.ID, "result": res})
}

// window reads -start and -end as an inclusive day range.
func (a *app) window() (recurrence.Date, recurrence.Date, error) {
	from, err := recurrence.ParseDate(a.flags.start)
	if err != nil {
		return recurrence.Date{}, recurrence.Date{}, inputError("invalid -start", err)
	}
	to, err := recurrence.ParseDate(a.flags.end)
	if err != nil {
		return recurrence.Date{}, recurrence.Date{}, inputError("invalid -end", err)
	}
	return from, to, nil
}

func (a *app) preview(ctx context.Context) error {
	r, err := a.candidate()
	if err != nil {
		return err
	}
	// The window doubles as the rule's validity period here.
	r.Rule.EffectiveEnd = mo.None[recurrence.Date]()
	from, to, err := a.window()
	if err != nil {
		return err
	}
	occ, err := a.svc.Preview(ctx, r.EstablishmentID, r.Rule, from, to)
	if err != nil {
		return err
	}

	if a.flags.ics != "" {
		cal := recurrence.NewCalendar("preview", "Availability "+r.MembershipID, occ, time.Now())
		return a.writeICS(cal)
	}
	return a.printJSON(occ)
}

func (a *app) export(ctx context.Context) error {
	from, to, err := a.window()
	if err != nil {
		return err
	}
	cal, err := a.svc.ExportRule(ctx, a.flags.ruleID, from, to)
	if err != nil {
		return err
	}
	return a.writeICS(cal)
}

func (a *app) importRules(ctx context.Context) error {
	if a.flags.ics == "" {
		return inputError("-ics is required", nil)
	}
	f, err := os.Open(a.flags.ics)
	if err != nil {
		return err
	}
	defer f.Close()

	created, err := a.svc.ImportRules(ctx, a.flags.member, a.flags.establishment, f)
	ids := make([]string, 0, len(created))
	for _, r := range created {
		ids = append(ids, r.ID)
	}
	if perr := a.printJSON(map[string]any{"created": ids}); perr != nil && err == nil {
		err = perr
	}
	return err
}

// writeICS writes cal to -ics, or to stdout when it is empty or "-".
func (a *app) writeICS(cal *ical.Calendar) error {
	if a.flags.ics == "" || a.flags.ics == "-" {
		return recurrence.WriteCalendar(a.stdout, cal)
	}
	f, err := os.Create(a.flags.ics)
	if err != nil {
		return err
	}
	if err := recurrence.WriteCalendar(f, cal); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.logger.Info("calendar written", "path", a.flags.ics)
	return nil
}

func inputError(msg string, err error) error {
	return &conflict.Error{Type: conflict.ErrInputValidation, Message: msg, Err: err}
}
