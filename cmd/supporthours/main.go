package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/router-for-me/supporthours/internal/app"
	"github.com/router-for-me/supporthours/internal/config"
	"github.com/router-for-me/supporthours/internal/settings"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run parses flags, loads config, and runs init, migrate, token issuing or the server.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("supporthours", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", settings.DefaultPort, "server port written to the initial config")

	doInit := fs.Bool("init", false, "write a new config file, create the database schema and exit")
	dbType := fs.String("db-type", "sqlite", "database type for -init: sqlite or postgres")
	dbPath := fs.String("db-path", "", "sqlite database file for -init")
	dbHost := fs.String("db-host", "", "postgres host for -init")
	dbPort := fs.Int("db-port", 5432, "postgres port for -init")
	dbUser := fs.String("db-user", "", "postgres user for -init")
	dbPassword := fs.String("db-password", "", "postgres password for -init")
	dbName := fs.String("db-name", "", "postgres database for -init")
	dbSSLMode := fs.String("db-sslmode", "disable", "postgres sslmode for -init")

	doMigrate := fs.Bool("migrate", false, "run database migrations and exit")

	issueToken := fs.Bool("issue-admin-token", false, "print a signed admin token and exit")
	subject := fs.String("subject", "", "admin token subject")
	perms := fs.String("perms", "", "comma separated permission keys, e.g. \"GET /v0/admin/plans/:id\"")
	super := fs.Bool("super", false, "issue a super admin token")

	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)

	switch {
	case *doInit:
		return app.Init(configPath, app.InitOptions{
			DatabaseType:     *dbType,
			DatabaseHost:     *dbHost,
			DatabasePort:     *dbPort,
			DatabaseUser:     *dbUser,
			DatabasePassword: *dbPassword,
			DatabaseName:     *dbName,
			DatabasePath:     *dbPath,
			DatabaseSSLMode:  *dbSSLMode,
			Port:             *port,
		})
	case *doMigrate:
		if errMigrate := app.Migrate(ctx, appCfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	case *issueToken:
		if strings.TrimSpace(*subject) == "" {
			return fmt.Errorf("-subject is required")
		}
		token, errIssue := app.IssueAdminToken(appCfg, *subject, splitPermissions(*perms), *super)
		if errIssue != nil {
			return errIssue
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	}

	if !app.ConfigExists(configPath) && strings.TrimSpace(os.Getenv(config.EnvDBConnection)) == "" {
		return fmt.Errorf("config %s not found, run with -init first", configPath)
	}
	return app.RunServer(ctx, appCfg)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// splitPermissions splits a comma separated permission list, dropping blanks.
func splitPermissions(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
