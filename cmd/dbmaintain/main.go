package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dbmaintain/dbmaintain/internal/audit"
	"github.com/dbmaintain/dbmaintain/internal/auth"
	"github.com/dbmaintain/dbmaintain/internal/config"
	httpserver "github.com/dbmaintain/dbmaintain/internal/http"
	"github.com/dbmaintain/dbmaintain/internal/logging"
	"github.com/dbmaintain/dbmaintain/internal/maintainer"
	"github.com/dbmaintain/dbmaintain/internal/metrics"
	"github.com/dbmaintain/dbmaintain/internal/rbac"
	"github.com/dbmaintain/dbmaintain/internal/secret"
)

// exitManual is returned when an update needs a human decision first.
const exitManual = 2

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init-config":
		err = initConfigCmd(args)
	case "update":
		err = updateCmd(args)
	case "check":
		err = checkCmd(args)
	case "mark-up-to-date":
		err = confirmedCmd("mark-up-to-date", args, "mark every script as executed without running it",
			(*maintainer.Maintainer).MarkDatabaseAsUpToDate)
	case "clear":
		err = confirmedCmd("clear", args, "drop every unpreserved database object",
			(*maintainer.Maintainer).ClearDatabase)
	case "clean":
		err = confirmedCmd("clean", args, "delete the data of every unpreserved table",
			(*maintainer.Maintainer).CleanDatabase)
	case "disable-constraints":
		err = simpleCmd("disable-constraints", args, (*maintainer.Maintainer).DisableConstraints)
	case "update-sequences":
		err = simpleCmd("update-sequences", args, (*maintainer.Maintainer).UpdateSequences)
	case "mark-error-performed":
		err = simpleCmd("mark-error-performed", args, (*maintainer.Maintainer).MarkErrorScriptPerformed)
	case "mark-error-reverted":
		err = simpleCmd("mark-error-reverted", args, (*maintainer.Maintainer).MarkErrorScriptReverted)
	case "status":
		err = statusCmd(args)
	case "token":
		err = tokenCmd(args)
	case "encrypt-password":
		err = encryptPasswordCmd(args)
	case "serve":
		err = serveCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, maintainer.ErrManualIntervention) {
			os.Exit(exitManual)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`dbmaintain commands:
  init-config           - create a starter config.yaml
  update                - execute new and changed scripts (-dry-run to only plan)
  check                 - list the script updates without executing anything
  mark-up-to-date       - register every script as executed without running it
  clear                 - drop all database objects except the preserved ones
  clean                 - delete all data except in preserved tables
  disable-constraints   - disable foreign key and not-null constraints
  update-sequences      - raise sequences and identity columns to the lowest value
  mark-error-performed  - treat the failed script as executed
  mark-error-reverted   - forget the failed script so it runs again
  status                - show the executed scripts
  token                 - issue an API token
  encrypt-password      - seal a database password with the secret key
  serve                 - launch the JSON API

Flags are command specific; run "<cmd> -h" for details.`)
}

func initConfigCmd(args []string) error {
	fs := flagSet("init-config")
	path := fs.String("path", "config.yaml", "where to write the sample config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*path); err == nil {
		return fmt.Errorf("%s already exists", *path)
	}
	if err := os.WriteFile(*path, []byte(config.Sample()), 0o644); err != nil {
		return err
	}
	fmt.Println("sample config written to", *path)
	return nil
}

// env is what every database command needs.
type env struct {
	ctx    context.Context
	cfg    config.Config
	logger *slog.Logger
	m      *maintainer.Maintainer
}

func open(configPath string) (*env, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	m, err := maintainer.Open(ctx, cfg, logger)
	if err != nil {
		stop()
		return nil, nil, err
	}
	closeFn := func() {
		if err := m.Close(); err != nil {
			logger.Error("close databases failed", "error", err)
		}
		stop()
	}
	return &env{ctx: ctx, cfg: cfg, logger: logger, m: m}, closeFn, nil
}

func updateCmd(args []string) error {
	fs := flagSet("update")
	configPath := fs.String("config", "config.yaml", "path to config file")
	dryRun := fs.Bool("dry-run", false, "plan the update without executing scripts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, closeFn, err := open(*configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := e.m.UpdateDatabase(e.ctx, *dryRun)
	printResult(res)
	logAudit(e.logger, "update", err, map[string]any{"dry_run": *dryRun})
	return err
}

func checkCmd(args []string) error {
	fs := flagSet("check")
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, closeFn, err := open(*configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := e.m.CheckScriptUpdates(e.ctx)
	printResult(res)
	return err
}

func printResult(res *maintainer.Result) {
	if res == nil {
		return
	}
	if res.Updates != nil {
		all := res.Updates.All()
		if len(all) == 0 {
			fmt.Println("database is up to date")
		}
		for _, u := range all {
			fmt.Println(" ", u)
		}
	}
	fmt.Printf("strategy=%s planned=%d executed=%d dry_run=%t\n", res.Strategy, len(res.Planned), len(res.Executed), res.DryRun)
	for _, name := range res.Planned {
		marker := " "
		for _, done := range res.Executed {
			if done == name {
				marker = "*"
				break
			}
		}
		fmt.Printf("  %s %s\n", marker, name)
	}
}

func simpleCmd(name string, args []string, op func(*maintainer.Maintainer, context.Context) error) error {
	fs := flagSet(name)
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return run(name, *configPath, op)
}

func confirmedCmd(name string, args []string, what string, op func(*maintainer.Maintainer, context.Context) error) error {
	fs := flagSet(name)
	configPath := fs.String("config", "config.yaml", "path to config file")
	approve := fs.Bool("approve", false, "skip approval prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Printf("About to %s.\n", what)
	if !*approve {
		if ok, err := promptYes("Type YES to proceed: "); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("aborted by user")
		}
	}
	return run(name, *configPath, op)
}

func run(name, configPath string, op func(*maintainer.Maintainer, context.Context) error) error {
	e, closeFn, err := open(configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	err = op(e.m, e.ctx)
	logAudit(e.logger, name, err, nil)
	if err != nil {
		return err
	}
	fmt.Println(name, "completed.")
	return nil
}

func statusCmd(args []string) error {
	fs := flagSet("status")
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, closeFn, err := open(*configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	st, err := e.m.Status(e.ctx)
	if err != nil {
		return err
	}
	if len(st.Executed) == 0 {
		fmt.Println("  no scripts executed yet")
		return nil
	}
	for _, es := range st.Executed {
		status := "succeeded"
		if !es.Succeeded {
			status = "FAILED"
		}
		fmt.Printf("  [%s] %s executed_at=%s checksum=%s\n", status, es.Script.FileName(),
			es.ExecutedAt.Format("2006-01-02 15:04:05"), es.Script.Checksum())
	}
	return nil
}

func tokenCmd(args []string) error {
	fs := flagSet("token")
	configPath := fs.String("config", "config.yaml", "path to config file")
	subject := fs.String("subject", "", "who the token is issued to")
	role := fs.String("role", string(rbac.RoleViewer), "viewer or operator")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("--subject is required")
	}
	r, err := rbac.ParseRole(*role)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if len(cfg.API.KeyBytes) == 0 {
		return fmt.Errorf("api.key or DBMAINTAIN_API_KEY is required to issue tokens")
	}
	tok, err := auth.NewTokenManager(cfg.API.KeyBytes, cfg.API.TokenTTL).Issue(*subject, r)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func encryptPasswordCmd(args []string) error {
	fs := flagSet("encrypt-password")
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if len(cfg.SecretKeyBytes) == 0 {
		return fmt.Errorf("secret_key or DBMAINTAIN_SECRET_KEY is required")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return err
	}
	sealed, err := secret.Seal(cfg.SecretKeyBytes, strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

func serveCmd(args []string) error {
	fs := flagSet("serve")
	configPath := fs.String("config", "config.yaml", "path to config file")
	addr := fs.String("addr", "", "listen address, overrides api.addr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}
	if len(cfg.API.KeyBytes) == 0 {
		return fmt.Errorf("api.key or DBMAINTAIN_API_KEY is required to serve the API")
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := maintainer.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	collector := metrics.NewCollector()
	m.AddObserver(collector)
	tokens := auth.NewTokenManager(cfg.API.KeyBytes, cfg.API.TokenTTL)

	logAudit(logger, "server_started", nil, map[string]any{"http_addr": cfg.API.Addr})
	return httpserver.New(cfg.API.Addr, logger, m, tokens, collector).Start(ctx)
}

func logAudit(logger *slog.Logger, action string, err error, payload map[string]any) {
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	_ = audit.LogEvent(logger, audit.Event{
		Actor:   os.Getenv("USER"),
		Action:  action,
		Outcome: outcome,
		Payload: payload,
	})
}

func promptYes(prompt string) (bool, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}

func flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	return fs
}
