package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dsi-data/logops/internal/chatops"
	"github.com/dsi-data/logops/internal/model"
)

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "logopsctl",
		Short: "Operator CLI for the DSI log-management lifecycle controller",
	}

	root.AddCommand(a.newConnectCmd())
	root.AddCommand(a.newDisconnectCmd())
	root.AddCommand(a.newStatusCmd())
	root.AddCommand(a.newChatCmd())
	root.AddCommand(a.newJobLogsCmd())
	root.AddCommand(a.newSweepCmd())

	return root
}

func (a *app) newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <region>",
		Short: "Open and probe a region's database connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.regions.Connect(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected to region %q\n", args[0])
			return nil
		},
	}
}

func (a *app) newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <region>",
		Short: "Close a region's database connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.regions.Disconnect(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disconnected region %q\n", args[0])
			return nil
		},
	}
}

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and table counts for every connected region",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := a.regions.ListRegions()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no regions connected")
				return nil
			}
			for _, name := range names {
				status, err := a.regions.TestConnection(cmd.Context(), name)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: error - %v\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: connected=%v\n", name, status.Connected)
				for table, count := range status.TableCounts {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d rows\n", table, count)
				}
			}
			return nil
		},
	}
}

func (a *app) newChatCmd() *cobra.Command {
	var sessionID, userID, roleFlag, region string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interactive REPL against the chat orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if region == "" {
				region = a.rt.Config.DefaultRegion
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			role := model.Role(roleFlag)

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprintf(cmd.OutOrStdout(), "logopsctl chat - region=%s role=%s (Ctrl-D to exit)\n", region, role)
			for {
				fmt.Fprint(cmd.OutOrStdout(), "> ")
				if !scanner.Scan() {
					return nil
				}
				line := scanner.Text()
				if line == "" {
					continue
				}
				resp, err := a.orchestrator.Handle(cmd.Context(), chatops.Turn{
					SessionID: sessionID,
					UserID:    userID,
					Role:      role,
					Region:    region,
					Message:   line,
				})
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "error: %v\n", err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", resp.CardType, resp.Text)
			}
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "chat session id (a random one is generated if omitted)")
	cmd.Flags().StringVar(&userID, "user", "operator", "chat user id")
	cmd.Flags().StringVar(&roleFlag, "role", string(model.RoleAdmin), "role to act as (Admin or Monitor)")
	cmd.Flags().StringVar(&region, "region", "", "region to operate against (defaults to the configured default region)")

	return cmd
}

func (a *app) newJobLogsCmd() *cobra.Command {
	jobLogs := &cobra.Command{
		Use:   "joblogs",
		Short: "Inspect job_logs audit rows",
	}

	var statusFlag string
	var limit int
	var region string

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent job log rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if region == "" {
				region = a.rt.Config.DefaultRegion
			}
			db, err := a.regions.Session(region)
			if err != nil {
				return err
			}
			rows, err := a.jobs.List(cmd.Context(), db, model.JobStatus(statusFlag), limit)
			if err != nil {
				return err
			}
			for _, row := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\t%s\trecords=%d\n",
					row.ID, row.JobType, row.TableName, row.Status, row.StartedAt.Format("2006-01-02 15:04:05"), row.RecordsAffected)
			}
			return nil
		},
	}
	list.Flags().StringVar(&statusFlag, "status", "", "filter by status (IN_PROGRESS, SUCCESS, FAILED)")
	list.Flags().IntVar(&limit, "limit", 20, "maximum rows to return")
	list.Flags().StringVar(&region, "region", "", "region to query (defaults to the configured default region)")

	jobLogs.AddCommand(list)
	return jobLogs
}

// governedTables is the default scope of a sweep with no --table flag:
// every main table the CRUD Core knows how to archive.
var governedTables = []model.Table{model.TableActivities, model.TableTransactions}

func (a *app) newSweepCmd() *cobra.Command {
	var region, tableFlag string
	var olderThanDays int
	var deleteToo, execute bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a non-interactive archive/delete sweep across every governed table, the way a scheduler would",
		RunE: func(cmd *cobra.Command, args []string) error {
			if region == "" {
				region = a.rt.Config.DefaultRegion
			}

			tables := governedTables
			if tableFlag != "" {
				tables = []model.Table{model.Table(tableFlag)}
			}

			now := time.Now()
			for _, table := range tables {
				fmt.Fprintf(cmd.OutOrStdout(), "sweeping %s in region %s (older than %d days, execute=%v, delete=%v)\n",
					table, region, olderThanDays, execute, deleteToo)

				if err := a.sweepArchive(cmd, region, table, now, execute); err != nil {
					return err
				}
				if !deleteToo {
					continue
				}
				archiveTable, ok := table.ArchiveTableFor()
				if !ok {
					continue
				}
				if err := a.sweepDelete(cmd, region, archiveTable, now, execute); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "region to sweep (defaults to the configured default region)")
	cmd.Flags().StringVar(&tableFlag, "table", "", "main table to sweep (defaults to every governed table)")
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 7, "informational only: printed with each swept table; the cutoff always comes from the engine's configured retention floors")
	cmd.Flags().BoolVar(&deleteToo, "delete", false, "also sweep the corresponding archive table for permanent deletion, past the delete retention floor")
	cmd.Flags().BoolVar(&execute, "execute", false, "actually archive/delete; without this flag, sweep only previews")

	return cmd
}

func (a *app) sweepArchive(cmd *cobra.Command, region string, table model.Table, now time.Time, execute bool) error {
	preview, err := a.engine.PreviewArchive(cmd.Context(), region, model.RoleAdmin, table, model.Filters{}, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  archive candidates: %d\n", preview.PreviewCount)
	if !execute {
		return nil
	}

	result, err := a.engine.ExecuteArchive(cmd.Context(), region, model.RoleAdmin, model.SourceScript, table, model.Filters{}, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  archived=%d deleted=%d skipped=%d job_log_id=%d\n",
		result.RecordsArchived, result.RecordsDeleted, result.RecordsSkipped, result.JobLogID)
	return nil
}

func (a *app) sweepDelete(cmd *cobra.Command, region string, archiveTable model.Table, now time.Time, execute bool) error {
	preview, err := a.engine.PreviewDelete(cmd.Context(), region, model.RoleAdmin, archiveTable, model.Filters{}, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  delete candidates: %d\n", preview.PreviewCount)
	if !execute {
		return nil
	}

	result, err := a.engine.ExecuteDelete(cmd.Context(), region, model.RoleAdmin, model.SourceScript, archiveTable, model.Filters{}, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  deleted=%d job_log_id=%d\n", result.RecordsDeleted, result.JobLogID)
	return nil
}
