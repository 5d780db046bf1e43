package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"importflow/internal"
	"importflow/internal/config"
	"importflow/internal/connectors"
	"importflow/internal/customs"
	"importflow/internal/gsuite"
	"importflow/internal/listener"
	"importflow/internal/logging"
	"importflow/internal/metrics"
	"importflow/internal/numbering"
	"importflow/internal/pipeline"
	"importflow/internal/recent"
	"importflow/internal/storage"
	"importflow/internal/vision"
)

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	cfg, err := config.Load()
	must(err)
	logging.Setup(cfg.LogLevel)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	engine, err := customs.NewEngine(cfg.CustomsConfig())
	must(err)

	cmd := os.Args[1]
	if cmd == "run" {
		runOnce(cfg, engine)
		return
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	numbers := numbering.New(db, cfg.PackagePrefix, cfg.PackageWidth, cfg.PackageStart)
	planner := pipeline.NewPlanner(db, engine, numbers, slog.Default())
	recents := recent.NewLRU(cfg.RecentCustomersMax, time.Duration(cfg.RecentCustomersTTLHours)*time.Hour)
	if err := recents.Restore(db); err != nil {
		slog.Warn("restore recent customers", "err", err)
	}
	processor := pipeline.NewProcessingService(db, cfg, newExtractor(cfg), recents, slog.Default())
	defer func() {
		if err := recents.Snapshot(db); err != nil {
			slog.Warn("save recent customers", "err", err)
		}
	}()

	switch cmd {
	case "doc:create":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		name := fs.String("name", "", "doc name")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*name) == "" {
			must(fmt.Errorf("--name is required"))
		}
		doc, err := db.CreateDoc(strings.TrimSpace(*name))
		must(err)
		fmt.Printf("doc created id=%s name=%s\n", doc.ID, doc.Name)
	case "doc:list":
		docs, err := db.ListDocs()
		must(err)
		for _, d := range docs {
			pkg := "-"
			if d.PackageNumber != nil {
				pkg = numbers.Format(*d.PackageNumber)
			}
			fmt.Printf("%s\t%s\t%s\treviewed=%t\tpackage=%s\n", d.ID, d.Name, d.Status, d.HumanReviewed, pkg)
		}
	case "doc:add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		var files stringList
		fs.Var(&files, "file", "screenshot or order file (repeatable)")
		_ = fs.Parse(os.Args[2:])
		if *docID == "" || len(files) == 0 {
			must(fmt.Errorf("--doc and --file are required"))
		}
		for _, path := range files {
			if pipeline.IsImageFile(path) {
				shot, created, err := processor.AddScreenshot(*docID, path)
				must(err)
				fmt.Printf("screenshot %s id=%s new=%t\n", path, shot.ID, created)
				continue
			}
			records, err := processor.AddOrderFile(*docID, path)
			must(err)
			fmt.Printf("order file %s records=%d\n", path, len(records))
		}
	case "doc:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		limit := fs.Int("limit", 0, "max screenshots (0 = all pending)")
		_ = fs.Parse(os.Args[2:])
		requireDoc(*docID)
		res, err := processor.ProcessPending(ctx, *docID, *limit)
		must(err)
		fmt.Printf("processed doc=%s extracted=%d failed=%d\n", *docID, res.Extracted, res.Failed)
	case "doc:retry":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		_ = fs.Parse(os.Args[2:])
		requireDoc(*docID)
		n, err := processor.RetryFailed(*docID)
		must(err)
		fmt.Printf("reset %d failed screenshots to pending\n", n)
	case "doc:plan":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		_ = fs.Parse(os.Args[2:])
		requireDoc(*docID)
		plan, err := planner.PlanDoc(*docID)
		must(err)
		writePlan(os.Stdout, plan)
	case "doc:rename":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		recordID := fs.String("record", "", "record id")
		customer := fs.String("customer", "", "customer name")
		_ = fs.Parse(os.Args[2:])
		if *docID == "" || *recordID == "" {
			must(fmt.Errorf("--doc and --record are required"))
		}
		must(db.UpdateRecordCustomer(*docID, *recordID, strings.TrimSpace(*customer)))
		recents.Touch(*customer)
		fmt.Printf("record %s customer=%q\n", *recordID, strings.TrimSpace(*customer))
	case "doc:remove-record":
		must(removeRecord(db, os.Args[2:], os.Stdout))
	case "doc:edit-record":
		must(editRecord(db, os.Args[2:], os.Stdout))
	case "split:set":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		customer := fs.String("customer", "", "customer group name")
		index := fs.Int("index", 1, "split number, starting at 1")
		name := fs.String("name", "", "declared name")
		value := fs.String("value", "", "declared value")
		_ = fs.Parse(os.Args[2:])
		if *docID == "" || strings.TrimSpace(*customer) == "" || *index < 1 {
			must(fmt.Errorf("--doc, --customer and --index>=1 are required"))
		}
		o := internal.SplitOverride{DocID: *docID, Customer: customs.CustomerKey(*customer), Index: *index - 1}
		if strings.TrimSpace(*name) != "" {
			n := strings.TrimSpace(*name)
			o.Name = &n
		}
		if strings.TrimSpace(*value) != "" {
			v, err := decimal.NewFromString(strings.TrimSpace(*value))
			must(err)
			if v.IsNegative() {
				must(fmt.Errorf("--value must not be negative"))
			}
			v = v.Round(2)
			o.Value = &v
		}
		if o.Name == nil && o.Value == nil {
			must(fmt.Errorf("--name or --value is required"))
		}
		must(db.SetSplitOverride(o))
		plan, err := planner.PlanDoc(*docID)
		must(err)
		writePlan(os.Stdout, plan)
	case "split:clear":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		customer := fs.String("customer", "", "customer group name")
		_ = fs.Parse(os.Args[2:])
		if *docID == "" || strings.TrimSpace(*customer) == "" {
			must(fmt.Errorf("--doc and --customer are required"))
		}
		n, err := db.ClearSplitOverrides(*docID, customs.CustomerKey(*customer))
		must(err)
		fmt.Printf("cleared %d overrides\n", n)
	case "doc:review":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		_ = fs.Parse(os.Args[2:])
		requireDoc(*docID)
		plan, err := planner.MarkReviewed(*docID)
		must(err)
		fmt.Printf("doc %s reviewed declarations=%d\n", *docID, len(plan.Declarations))
	case "doc:number":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		_ = fs.Parse(os.Args[2:])
		requireDoc(*docID)
		label, err := numbers.Label(*docID)
		must(err)
		fmt.Println(label)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		out := fs.String("out", "", "output xlsx path (default OUTPUT_DIR/<package>.xlsx)")
		force := fs.Bool("force", false, "export without human review")
		_ = fs.Parse(os.Args[2:])
		requireDoc(*docID)
		var exporter pipeline.PlanExporter = pipeline.XLSXExporter{Dir: cfg.OutputDir}
		if strings.TrimSpace(*out) != "" {
			exporter = pipeline.FileExporter{Path: *out}
		}
		location, plan, err := planner.Export(ctx, *docID, exporter, *force)
		must(err)
		fmt.Printf("exported package=%s declarations=%d to %s\n", plan.PackageLabel, len(plan.Declarations), location)
	case "export:sheets":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		docID := fs.String("doc", "", "doc id")
		force := fs.Bool("force", false, "export without human review")
		_ = fs.Parse(os.Args[2:])
		requireDoc(*docID)
		exporter, err := gsuite.NewExporter(ctx, cfg, slog.Default())
		must(err)
		location, plan, err := planner.Export(ctx, *docID, exporter, *force)
		must(err)
		fmt.Printf("exported package=%s declarations=%d to %s\n", plan.PackageLabel, len(plan.Declarations), location)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "gmail", "gmail|imap")
		label := fs.String("label", "INBOX", "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		docID := fs.String("doc", "", "doc that receives the orders (empty = fetch only)")
		_ = fs.Parse(os.Args[2:])
		conn, err := connectors.New(ctx, cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn, slog.Default())
		result, err := fetch.FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)
		if *docID != "" {
			n, err := processor.ProcessFetchedMails(*docID, 0, *provider)
			must(err)
			fmt.Printf("processed mails=%d into doc=%s\n", n, *docID)
		}
	case "mail:process":
		must(processMail(processor, os.Args[2:], os.Stdout))
	case "mail:listen":
		conn, err := connectors.New(ctx, cfg, cfg.MailListenerProvider)
		must(err)
		metrics.Serve(ctx, cfg.MetricsAddr, slog.Default())
		s := listener.NewService(db, cfg, listener.Deps{
			Connector: conn,
			Processor: processor,
			Planner:   planner,
			Exporter:  pipeline.XLSXExporter{Dir: cfg.OutputDir},
			Recent:    recents,
			Logger:    slog.Default(),
		})
		must(s.Run(ctx))
	case "customers:recent":
		for _, name := range recents.List() {
			fmt.Println(name)
		}
	default:
		usage()
		os.Exit(1)
	}
}

// runOnce plans a single input file without touching the database.
func runOnce(cfg config.Config, engine *customs.Engine) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	input := fs.String("input", "", "input file path")
	inType := fs.String("type", "", "image|html|pdf|xlsx|eml|text (default: from extension)")
	output := fs.String("output", "", "output xlsx path")
	_ = fs.Parse(os.Args[2:])
	if *input == "" || *output == "" {
		must(fmt.Errorf("--input and --output are required"))
	}

	records, err := pipeline.ExtractRecordsFromInput(context.Background(), newExtractor(cfg), *inType, *input)
	must(err)
	plan := pipeline.NewPlanner(nil, engine, nil, slog.Default()).PlanRecords(records)
	must(pipeline.ExportPlanToXLSX(plan, *output))
	fmt.Printf("run done records=%d declarations=%d output=%s\n", len(plan.Records), len(plan.Declarations), *output)
}

func newExtractor(cfg config.Config) pipeline.Extractor {
	if strings.TrimSpace(cfg.VisionAPIKey) == "" {
		return nil
	}
	return vision.NewClient(cfg)
}

func requireDoc(id string) {
	if strings.TrimSpace(id) == "" {
		must(fmt.Errorf("--doc is required"))
	}
}

func usage() {
	fmt.Println("usage: importflow <command>")
	fmt.Println("commands:")
	fmt.Println("  doc:create --name=...")
	fmt.Println("  doc:list")
	fmt.Println("  doc:add --doc=ID --file=PATH [--file=...]")
	fmt.Println("  doc:process --doc=ID [--limit=N]")
	fmt.Println("  doc:retry --doc=ID")
	fmt.Println("  doc:plan --doc=ID")
	fmt.Println("  doc:rename --doc=ID --record=ID --customer=NAME")
	fmt.Println("  doc:remove-record --doc=ID --record=ID")
	fmt.Println("  doc:edit-record --doc=ID --record=ID [--total=...] [--item=N --qty=... --unit=... --item-total=...]")
	fmt.Println("  split:set --doc=ID --customer=NAME --index=N [--name=...] [--value=...]")
	fmt.Println("  split:clear --doc=ID --customer=NAME")
	fmt.Println("  doc:review --doc=ID")
	fmt.Println("  doc:number --doc=ID")
	fmt.Println("  export:xlsx --doc=ID [--out=PATH] [--force]")
	fmt.Println("  export:sheets --doc=ID [--force]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50 [--doc=ID]")
	fmt.Println("  mail:process --doc=ID [--provider=gmail|imap] [--message-id=...] [--batch=20]")
	fmt.Println("  mail:listen")
	fmt.Println("  customers:recent")
	fmt.Println("  run --input=PATH --output=PATH [--type=image|html|pdf|xlsx|eml|text]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
