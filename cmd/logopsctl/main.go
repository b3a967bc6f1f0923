// Command logopsctl is the operator front door onto the lifecycle
// controller: connect/disconnect regions, inspect status, run the chat
// orchestrator as a REPL, and trigger a scheduled sweep the way a cron
// job would.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nyaruka/ezconf"
	"github.com/vinovest/sqlx"

	"github.com/dsi-data/logops/internal/chatops"
	"github.com/dsi-data/logops/internal/crud"
	"github.com/dsi-data/logops/internal/joblog"
	"github.com/dsi-data/logops/internal/regions"
	"github.com/dsi-data/logops/runtime"
)

// app bundles everything a subcommand needs, built once in main from the
// loaded Config and handed to every cobra RunE closure explicitly.
type app struct {
	rt           *runtime.Runtime
	regions      *regions.Manager
	engine       *crud.Engine
	jobs         *joblog.Logger
	orchestrator *chatops.Orchestrator
}

func main() {
	config := runtime.NewDefaultConfig()
	loader := ezconf.NewLoader(config, "logopsctl", "Conversational lifecycle controller for the DSI log-management database", []string{"logopsctl.toml"})
	loader.MustLoad()

	logger, err := runtime.NewLogger(config.LogLevel, config.SentryDSN, config.DeploymentID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}

	controlDB, err := sqlx.Open("postgres", config.DB)
	if err != nil {
		logger.Error("error opening control-plane database", "error", err)
		os.Exit(1)
	}

	store := regions.NewSQLConfigStore(controlDB)
	regionManager := regions.NewManager(store)
	jobs := joblog.NewLogger()
	engine := crud.NewEngine(regionManager, jobs, config.ArchiveRetentionDays, config.DeleteRetentionDays, logger)
	orchestrator := chatops.NewOrchestrator(regionManager, engine, jobs, config.SQLRowCap, config.LLMTimeoutSeconds)

	a := &app{
		rt:           &runtime.Runtime{Config: config, Logger: logger},
		regions:      regionManager,
		engine:       engine,
		jobs:         jobs,
		orchestrator: orchestrator,
	}

	root := a.newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		a.rt.ReportError(err, map[string]string{"component": "cli"})
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
