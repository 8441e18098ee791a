package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/sloppy/hostlink/internal/config"
	"github.com/sloppy/hostlink/internal/db"
	"github.com/sloppy/hostlink/internal/discovery"
	"github.com/sloppy/hostlink/internal/export"
	"github.com/sloppy/hostlink/internal/importer"
	"github.com/sloppy/hostlink/internal/linkage"
	"github.com/sloppy/hostlink/internal/logging"
	"github.com/sloppy/hostlink/internal/metrics"
	"github.com/sloppy/hostlink/internal/validate"
	"github.com/sloppy/hostlink/internal/web"
)

func usage() string {
	return "Usage: hostlink <serve|import|hosts|templates|discover|export|audit> [--config file] [--db file]"
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(out, usage())
		return 1
	}

	command := strings.ToLower(args[1])
	switch command {
	case "serve":
		return runServe(args[2:], out, errOut)
	case "import":
		return runImport(args[2:], out, errOut)
	case "hosts":
		return runHosts(args[2:], out, errOut)
	case "templates":
		return runTemplates(args[2:], out, errOut)
	case "discover":
		return runDiscover(args[2:], out, errOut)
	case "export":
		return runExport(args[2:], out, errOut)
	case "audit":
		return runAudit(args[2:], out, errOut)
	case "help", "-h", "--help":
		fmt.Fprintln(out, usage())
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n", command)
		fmt.Fprintln(out, usage())
		return 1
	}
}

// app holds everything a command needs. Close releases the database and
// flushes the logger.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *db.DB
	metrics   *metrics.Metrics
	engine    *linkage.Engine
	discovery *discovery.Service
}

// openApp consumes --config and --db from args and wires the store, engine
// and discovery service.
func openApp(args []string) (*app, []string, error) {
	cfgPath, remaining, err := extractFlag(args, "config", "")
	if err != nil {
		return nil, nil, err
	}
	dbPath, remaining, err := extractFlag(remaining, "db", "")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("open db: %w", err)
	}

	m := metrics.New()
	validator := validate.New()
	engine := linkage.NewEngine(database, validator, logger, linkage.WithRecorder(m))
	disc := discovery.NewService(database, engine, validator, logger, cfg.Discovery.LostHostLifetime)
	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        database,
		metrics:   m,
		engine:    engine,
		discovery: disc,
	}, remaining, nil
}

func (a *app) Close() {
	a.db.Close()
	_ = a.logger.Sync()
}

func (a *app) hostByName(ctx context.Context, name string) (*linkage.Host, error) {
	h, found, err := a.db.GetHostByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find host: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("host %q not found", name)
	}
	return h, nil
}

func (a *app) templateByName(ctx context.Context, name string) (*linkage.Template, error) {
	t, found, err := a.db.GetTemplateByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find template: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("template %q not found", name)
	}
	return t, nil
}

func runServe(args []string, out, errOut io.Writer) int {
	a, remaining, err := openApp(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer a.Close()
	port, remaining, err := extractFlag(remaining, "port", a.cfg.Port)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if len(remaining) > 0 {
		fmt.Fprintf(errOut, "unexpected arguments: %s\n", strings.Join(remaining, " "))
		return 1
	}
	a.cfg.Port = port

	server := web.NewServer(a.db, a.engine, a.discovery, a.metrics, a.logger)
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(out, "listening on http://%s\n", a.cfg.Addr())
	a.logger.Info("server started", zap.String("addr", a.cfg.Addr()), zap.String("db", a.cfg.DBPath))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(errOut, "serve: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(errOut, "shutdown: %v\n", err)
			return 1
		}
		a.logger.Info("server stopped")
	}
	return 0
}

func runImport(args []string, out, errOut io.Writer) int {
	a, remaining, err := openApp(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer a.Close()
	if len(remaining) != 1 {
		fmt.Fprintln(errOut, "import requires a fixture YAML file path")
		return 1
	}

	fx, err := importer.ParseFile(remaining[0])
	if err != nil {
		fmt.Fprintf(errOut, "parse fixture: %v\n", err)
		return 1
	}
	stats, err := importer.Import(context.Background(), a.db, a.engine, fx)
	if err != nil {
		fmt.Fprintf(errOut, "import: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "imported %d templates (%d kept), %d rules, %d prototypes, %d hosts (%d skipped)\n",
		stats.Templates, stats.TemplatesKept, stats.Rules, stats.Prototypes, stats.Hosts, stats.HostsSkipped)
	for _, id := range stats.PrototypeIDs {
		fmt.Fprintf(out, "prototype %d\n", id)
	}
	return 0
}

func runHosts(args []string, out, errOut io.Writer) int {
	a, remaining, err := openApp(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer a.Close()
	if len(remaining) < 1 {
		fmt.Fprintln(errOut, "hosts command requires subcommand: list|create <name>|delete <name>")
		return 1
	}
	ctx := context.Background()

	sub := remaining[0]
	switch sub {
	case "list":
		origin, rest, err := extractFlag(remaining[1:], "origin", "")
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		group, _, err := extractFlag(rest, "group", "")
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		items, err := a.db.ListHosts(ctx, db.HostFilter{Origin: origin, Group: group})
		if err != nil {
			fmt.Fprintf(errOut, "list hosts: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tORIGIN\tADDRESS\tTEMPLATES\tENTITIES")
		for _, h := range items {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\n", h.ID, h.TechnicalName, h.Origin, h.MainAddress, h.Templates, h.Entities)
		}
		if err := tw.Flush(); err != nil {
			fmt.Fprintf(errOut, "write: %v\n", err)
			return 1
		}
		return 0
	case "create":
		group, rest, err := extractFlag(remaining[1:], "group", "")
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		ip, rest, err := extractFlag(rest, "ip", "")
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		templates, rest, err := extractFlag(rest, "templates", "")
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		if len(rest) != 1 {
			fmt.Fprintln(errOut, "hosts create requires a host name")
			return 1
		}
		spec := linkage.HostSpec{TechnicalName: rest[0]}
		if group != "" {
			spec.Groups = splitList(group)
		}
		if ip != "" {
			spec.Interfaces = []linkage.Interface{{Type: "agent", IP: ip, Port: "10050", UseIP: true, Main: true}}
		}
		for _, name := range splitList(templates) {
			t, err := a.templateByName(ctx, name)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return 1
			}
			spec.Templates = append(spec.Templates, t.ID)
		}
		h, err := a.engine.CreateHost(ctx, spec)
		if err != nil {
			fmt.Fprintf(errOut, "create host: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "created host %d\t%s\n", h.ID, h.TechnicalName)
		return 0
	case "delete":
		if len(remaining) != 2 {
			fmt.Fprintln(errOut, "hosts delete requires a host name")
			return 1
		}
		h, err := a.hostByName(ctx, remaining[1])
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		if err := a.engine.DeleteHost(ctx, h.ID); err != nil {
			fmt.Fprintf(errOut, "delete host: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "deleted host %s\n", h.TechnicalName)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown hosts subcommand: %s\n", sub)
		return 1
	}
}

func runTemplates(args []string, out, errOut io.Writer) int {
	a, remaining, err := openApp(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer a.Close()
	if len(remaining) < 1 {
		fmt.Fprintln(errOut, "templates command requires subcommand: list|link|unlink|clear")
		return 1
	}
	ctx := context.Background()

	sub := remaining[0]
	if sub == "list" {
		templates, err := a.db.ListTemplates(ctx)
		if err != nil {
			fmt.Fprintf(errOut, "list templates: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tENTITIES\tHOSTS")
		for _, t := range templates {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", t.ID, t.Name, t.Entities, t.Hosts)
		}
		if err := tw.Flush(); err != nil {
			fmt.Fprintf(errOut, "write: %v\n", err)
			return 1
		}
		return 0
	}

	hostName, rest, err := extractFlag(remaining[1:], "host", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if hostName == "" || len(rest) == 0 {
		fmt.Fprintf(errOut, "templates %s requires --host and at least one template name\n", sub)
		return 1
	}
	h, err := a.hostByName(ctx, hostName)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	ids := make([]int64, 0, len(rest))
	for _, name := range rest {
		t, err := a.templateByName(ctx, name)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		ids = append(ids, t.ID)
	}

	switch sub {
	case "link":
		for _, id := range ids {
			res, err := a.engine.AttachTemplate(ctx, h.ID, id)
			if err != nil {
				fmt.Fprintf(errOut, "link template: %v\n", err)
				return 1
			}
			fmt.Fprintf(out, "linked template %d: %d entities created, %d relinked\n", id, res.Created, res.Retagged)
		}
		return 0
	case "unlink", "clear":
		mode := linkage.UnlinkKeep
		if sub == "clear" {
			mode = linkage.UnlinkClear
		}
		reqs := make([]linkage.UnlinkRequest, 0, len(ids))
		for _, id := range ids {
			reqs = append(reqs, linkage.UnlinkRequest{TemplateID: id, Mode: mode})
		}
		results, err := a.engine.UnlinkBatch(ctx, h.ID, reqs)
		if err != nil {
			fmt.Fprintf(errOut, "%s template: %v\n", sub, err)
			return 1
		}
		for _, res := range results {
			fmt.Fprintf(out, "%s template %d: %d entities kept, %d deleted\n", res.Mode, res.TemplateID, res.Detached, res.Deleted)
			if res.Note != "" {
				fmt.Fprintf(out, "note: %s\n", res.Note)
			}
		}
		return 0
	default:
		fmt.Fprintf(errOut, "unknown templates subcommand: %s\n", sub)
		return 1
	}
}

func runDiscover(args []string, out, errOut io.Writer) int {
	a, remaining, err := openApp(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer a.Close()
	protoRaw, remaining, err := extractFlag(remaining, "prototype", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	protoID, err := strconv.ParseInt(protoRaw, 10, 64)
	if err != nil || protoID <= 0 {
		fmt.Fprintln(errOut, "discover requires --prototype <id>")
		return 1
	}
	if len(remaining) != 1 {
		fmt.Fprintln(errOut, "discover requires a rows YAML file path")
		return 1
	}

	rows, err := importer.ParseRowsFile(remaining[0])
	if err != nil {
		fmt.Fprintf(errOut, "parse rows: %v\n", err)
		return 1
	}
	res, err := a.discovery.Apply(context.Background(), protoID, rows)
	if err != nil {
		fmt.Fprintf(errOut, "discover: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "created %d, updated %d, lost %d, removed %d, skipped %d\n",
		len(res.Created), len(res.Updated), len(res.Lost), len(res.Removed), len(res.Skipped))
	for _, rowErr := range res.Errors {
		fmt.Fprintf(errOut, "row %s: %s\n", rowErr.Host, rowErr.Err)
	}
	return 0
}

func runExport(args []string, out, errOut io.Writer) int {
	a, remaining, err := openApp(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer a.Close()
	hostName, remaining, err := extractFlag(remaining, "host", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	format, remaining, err := extractFlag(remaining, "format", "json")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	outputPath, remaining, err := extractFlag(remaining, "o", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if outputPath == "" {
		outputPath, remaining, err = extractFlag(remaining, "output", "")
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	}
	if len(remaining) > 0 {
		fmt.Fprintf(errOut, "unexpected arguments: %s\n", strings.Join(remaining, " "))
		return 1
	}
	ctx := context.Background()

	var hostID int64
	if hostName != "" {
		h, err := a.hostByName(ctx, hostName)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		hostID = h.ID
	}

	w := out
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			fmt.Fprintf(errOut, "create output: %v\n", err)
			return 1
		}
		defer file.Close()
		w = file
	}

	format = strings.ToLower(format)
	switch {
	case format == "json" && hostID != 0:
		err = export.ExportHostJSON(ctx, a.db, hostID, w)
	case format == "json":
		err = export.ExportInventoryJSON(ctx, a.db, w)
	case format == "csv" && hostID != 0:
		err = export.ExportHostCSV(ctx, a.db, hostID, w)
	case format == "csv":
		err = export.ExportInventoryCSV(ctx, a.db, w)
	case format == "text" && hostID != 0:
		err = export.ExportHostText(ctx, a.db, hostID, w)
	case format == "text":
		err = export.ExportInventoryText(ctx, a.db, w)
	default:
		fmt.Fprintf(errOut, "unknown export format: %s\n", format)
		return 1
	}
	if err != nil {
		fmt.Fprintf(errOut, "export %s: %v\n", format, err)
		return 1
	}
	if outputPath != "" {
		fmt.Fprintf(out, "exported %s (%s)\n", outputPath, format)
	}
	return 0
}

func runAudit(args []string, out, errOut io.Writer) int {
	a, remaining, err := openApp(args)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer a.Close()
	hostName, remaining, err := extractFlag(remaining, "host", "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	limitRaw, remaining, err := extractFlag(remaining, "limit", "20")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	limit, err := strconv.Atoi(limitRaw)
	if err != nil || limit <= 0 {
		fmt.Fprintln(errOut, "limit must be a positive number")
		return 1
	}
	if hostName == "" || len(remaining) > 0 {
		fmt.Fprintln(errOut, "audit requires --host <name>")
		return 1
	}
	ctx := context.Background()
	h, err := a.hostByName(ctx, hostName)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	records, err := a.db.ListAudit(ctx, h.ID, limit)
	if err != nil {
		fmt.Fprintf(errOut, "list audit: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tACTION\tTEMPLATE\tKEPT\tDELETED\tOPERATION")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", rec.At.Format(time.RFC3339), rec.Action, rec.TemplateID, rec.Detached, rec.Deleted, rec.OperationID)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(errOut, "write: %v\n", err)
		return 1
	}
	return 0
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// extractFlag finds a string flag (e.g., --db value) anywhere in args and returns its value and remaining args.
func extractFlag(args []string, name string, defaultVal string) (string, []string, error) {
	val := defaultVal
	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--"+name || arg == "-"+name {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s flag requires a value", arg)
			}
			val = args[i+1]
			i++
			continue
		}
		remaining = append(remaining, arg)
	}
	return val, remaining, nil
}
