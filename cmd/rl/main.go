package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rentline/internal/config"
	"rentline/internal/db"
	"rentline/internal/domain"
	"rentline/internal/heartbeat"
	"rentline/internal/migrate"
	"rentline/internal/repo"
	"rentline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Rentline CLI",
	Long: `Rentline watches a rental portfolio so owners don't have to.
The heartbeat sweeps every opted-in user's properties for conditions that need
attention (leases ending, rent overdue, new applications, stale listings,
inspections due), creates tasks, and auto-executes low-risk actions when the
user's autonomy settings allow it. Every action lands in an audit log.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RENTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(heartbeatCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(actionsCmd())
	rootCmd.AddCommand(autonomyCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default rentline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := migrate.Version(r.DB)
				if err != nil {
					return err
				}
				fmt.Println("schema at version", v)
				return nil
			})
		},
	}
}

func heartbeatCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Run the proactive sweep once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e heartbeat.Engine) error {
				summary, err := e.Run(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				fmt.Printf("processed %d users, created %d tasks, auto-executed %d actions\n",
					summary.Processed, summary.TasksCreated, summary.ActionsAutoExecuted)
				for _, msg := range summary.Errors {
					fmt.Println("  error:", msg)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "sweep one user only (bypasses opt-in)")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect and act on tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskDismissCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var userID, status, category string
	var open bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, repo.TaskFilters{
					UserID: userID, Status: status, Category: category, OpenOnly: open, Limit: limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Status", "Priority"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Category, t.Status, t.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "filter by user")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().BoolVar(&open, "open", false, "only open tasks")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s  [%s/%s]  %s\n", t.ID, t.Category, t.Priority, t.Status)
				fmt.Println(t.Title)
				if t.Description != "" {
					fmt.Println(t.Description)
				}
				if t.Recommendation != "" {
					fmt.Println("recommendation:", t.Recommendation)
				}
				for _, entry := range t.Timeline {
					marker := " "
					if entry.Status == "current" {
						marker = ">"
					}
					fmt.Printf("  %s %s  %s\n", marker, entry.TS, entry.Action)
				}
				return nil
			})
		},
	}
	return cmd
}

func taskApproveCmd() *cobra.Command {
	return taskStatusCmd("approve", "Approve a task", "in_progress", "Owner approved the recommended action", "current")
}

func taskDismissCmd() *cobra.Command {
	return taskStatusCmd("dismiss", "Dismiss a task", "cancelled", "Dismissed by owner", "completed")
}

func taskStatusCmd(use, short, status, action, entryStatus string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				t, err := r.UpdateTaskStatus(ctx, args[0], status, domain.TimelineEntry{
					TS: now, Action: action, Status: entryStatus,
				}, now)
				if err != nil {
					return err
				}
				fmt.Printf("%s -> %s\n", t.ID, t.Status)
				return nil
			})
		},
	}
}

func actionsCmd() *cobra.Command {
	var userID string
	var limit int
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Show the proactive action log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				actions, err := r.ListActions(ctx, userID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Trigger", "Source", "Action", "Auto"})
				for _, a := range actions {
					auto := ""
					if a.WasAutoExecuted {
						auto = "yes"
					}
					tw.AppendRow(table.Row{a.CreatedAt, a.TriggerType, a.TriggerSource, a.ActionTaken, auto})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func autonomyCmd() *cobra.Command {
	auto := &cobra.Command{Use: "autonomy", Short: "Manage autonomy settings"}
	auto.AddCommand(autonomyShowCmd())
	auto.AddCommand(autonomySetCmd())
	return auto
}

func autonomyShowCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a user's autonomy settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetAutonomySettings(ctx, userID)
				if errors.Is(err, repo.ErrNotFound) {
					fmt.Println("not opted in (heartbeat skips this user)")
					return nil
				}
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	return cmd
}

func autonomySetCmd() *cobra.Command {
	var userID, preset string
	var overrides []string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a user's preset and overrides (opts them into the heartbeat)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			parsed := map[string]string{}
			for _, raw := range overrides {
				parts := strings.SplitN(raw, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("override %q must be category=L<0..4>", raw)
				}
				parsed[parts[0]] = parts[1]
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s := domain.AutonomySettings{
					UserID:    userID,
					Preset:    preset,
					Overrides: parsed,
					UpdatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.UpsertAutonomySettings(ctx, s); err != nil {
					return err
				}
				fmt.Printf("autonomy for %s: preset=%s overrides=%v\n", userID, preset, parsed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&preset, "preset", "balanced", "cautious, balanced or hands_off")
	cmd.Flags().StringSliceVar(&overrides, "override", nil, "category=L<n> override, repeatable")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo portfolio for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return seedDemo(ctx, r)
			})
		},
	}
}

func seedDemo(ctx context.Context, r repo.Repo) error {
	now := time.Now().UTC()
	ts := func(t time.Time) string { return t.Format(time.RFC3339) }
	userID := "demo-owner"
	if err := r.InsertUser(ctx, domain.User{
		ID: userID, Email: "demo@rentline.local", Name: "Demo Owner", Role: "owner", CreatedAt: ts(now),
	}); err != nil {
		return err
	}
	if err := r.UpsertAutonomySettings(ctx, domain.AutonomySettings{
		UserID: userID, Preset: "balanced", UpdatedAt: ts(now),
	}); err != nil {
		return err
	}

	propA, propB := uuid.NewString(), uuid.NewString()
	if err := r.InsertProperty(ctx, domain.Property{
		ID: propA, UserID: userID, Address: "12 Acacia Ave", Suburb: "Paddington", State: "QLD", CreatedAt: ts(now),
	}); err != nil {
		return err
	}
	if err := r.InsertProperty(ctx, domain.Property{
		ID: propB, UserID: userID, Address: "4/88 Harbour St", Suburb: "Sydney", State: "NSW", CreatedAt: ts(now),
	}); err != nil {
		return err
	}

	tenA := uuid.NewString()
	if err := r.InsertTenancy(ctx, domain.Tenancy{
		ID: tenA, PropertyID: propA, TenantName: "Alex Wong", TenantEmail: "alex@example.com",
		RentWeekly: 520, Status: "active",
		StartDate: ts(now.AddDate(0, -11, 0)), EndDate: ts(now.AddDate(0, 0, 21)), CreatedAt: ts(now),
	}); err != nil {
		return err
	}
	if err := r.InsertArrearsRecord(ctx, domain.ArrearsRecord{
		ID: uuid.NewString(), TenancyID: tenA, Amount: 1040, DaysOverdue: 9, CreatedAt: ts(now.Add(-2 * time.Hour)),
	}); err != nil {
		return err
	}

	listing := uuid.NewString()
	if err := r.InsertListing(ctx, domain.Listing{
		ID: listing, PropertyID: propB, Headline: "Sunny two-bed with harbour glimpses",
		RentWeekly: 750, Status: "published", ViewCount: 6,
		PublishedAt: ts(now.AddDate(0, 0, -12)), CreatedAt: ts(now),
	}); err != nil {
		return err
	}
	if err := r.InsertApplication(ctx, domain.Application{
		ID: uuid.NewString(), ListingID: listing, ApplicantName: "Sam Lee", ApplicantEmail: "sam@example.com",
		IncomeWeekly: 2100, Status: "submitted", SubmittedAt: ts(now.Add(-5 * time.Hour)),
	}); err != nil {
		return err
	}

	fmt.Println("seeded demo portfolio for user", userID)
	fmt.Println("run: rl heartbeat --user", userID)
	return nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:  os.Getenv("RENTLINE_JWT_SECRET"),
				CronSecret: os.Getenv("RENTLINE_CRON_SECRET"),
			}
			if cfg != nil {
				if authCfg.JWTSecret == "" {
					authCfg.JWTSecret = cfg.Auth.JWTSecret
				}
				if authCfg.CronSecret == "" {
					authCfg.CronSecret = cfg.Auth.CronSecret
				}
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			if authCfg.JWTSecret == "" && authCfg.CronSecret == "" {
				return fmt.Errorf("RENTLINE_JWT_SECRET or RENTLINE_CRON_SECRET (or rentline.yml auth) is required")
			}
			e := heartbeat.New(conn)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartEmailDispatcher(e, cfg)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Rentline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, heartbeat.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, heartbeat.New(conn))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
