package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	analyticssdk "github.com/law1om/analytics-platform/sdk/go"

	"github.com/law1om/analytics-platform/internal/analytics"
	"github.com/law1om/analytics-platform/internal/app"
	"github.com/law1om/analytics-platform/internal/config"
	"github.com/law1om/analytics-platform/internal/console"
	"github.com/law1om/analytics-platform/internal/domain"
	"github.com/law1om/analytics-platform/internal/engine"
	"github.com/law1om/analytics-platform/internal/engine/auth"
	"github.com/law1om/analytics-platform/internal/pipeline"
	"github.com/law1om/analytics-platform/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bankctl",
	Short: "Bank goals and tasks analytics",
	Long: `bankctl runs the goals/tasks backend, the analytics console, and renders
analytics screens in the terminal.
- Divisions own blocks (departments); users belong to a division and a block.
- Goals belong to a division; tasks belong to a goal and may be assigned to a user.
- A goal's progress follows the mean progress of its tasks.
- Screens (dashboard, division, block, my-division) are computed from a fresh
  fetch of every collection; admins see the whole bank, employees their division.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BANKCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/"+config.FileName+")")
	rootCmd.PersistentFlags().String("api-url", "", "backend API URL (overrides console.api_url)")
	rootCmd.PersistentFlags().String("token", "", "bearer token from bankctl login")
	rootCmd.PersistentFlags().Bool("verbose", false, "development logging")
	for _, name := range []string{"workspace", "json", "config", "api-url", "token", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(consoleCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(myDivisionCmd())
	rootCmd.AddCommand(divisionCmd())
	rootCmd.AddCommand(blockCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the goals/tasks API",
		Long:  "Opens the workspace database, applies migrations and the configured seed, then serves the REST API. BANKCTL_JWT_SECRET signs login tokens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := jwtSecret()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := app.Seed(ctx, e, e.Config.Seed); err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: e.Config.Server.BasePath,
					Auth: server.AuthConfig{
						JWTSecret: secret,
						Issuer:    e.Config.Auth.Issuer,
						TokenTTL:  e.Config.TokenTTL(),
					},
					Logger: e.Logger,
				})
				if err != nil {
					return err
				}
				if addr == "" {
					addr = e.Config.Server.Addr
				}
				e.Logger.Info("serving api", zap.String("addr", addr), zap.String("base_path", e.Config.Server.BasePath))
				fmt.Printf("Serving API on http://%s%s (Swagger UI at /docs)\n", addr, e.Config.Server.BasePath)
				return listen(ctx, addr, handler)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func consoleCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Start the analytics console API",
		Long:  "Serves the analytics screens. Every request is computed from the backend API with the caller's token; BANKCTL_JWT_SECRET must match the backend's.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := jwtSecret()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			handler, err := console.New(console.Config{
				APIURL:       apiURL(cfg),
				JWTSecret:    secret,
				FetchTimeout: cfg.FetchTimeout(),
				Sessions:     cfg.Console.Sessions,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Console.Addr
			}
			logger.Info("serving console", zap.String("addr", addr), zap.String("api_url", apiURL(cfg)))
			fmt.Printf("Serving console on http://%s/v0 (backend %s)\n", addr, apiURL(cfg))
			return listen(cmd.Context(), addr, handler)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides console.addr)")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the configured divisions and users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := app.Seed(ctx, e, e.Config.Seed)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Seeded %d division(s) and %d user(s)\n", res.Divisions, res.Users)
				return nil
			})
		},
	}
}

func loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Log in and print a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if password == "" {
				password = viper.GetString("password")
			}
			if password == "" {
				return fmt.Errorf("--password or BANKCTL_PASSWORD required")
			}
			resp, err := analyticssdk.New(apiURL(cfg), "").Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(resp)
			}
			fmt.Println(resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password")
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the dashboard for the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScreen(cmd.Context(), pipeline.ViewDashboard, 0, "")
		},
	}
}

func myDivisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "my-division",
		Short: "Show your own division",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScreen(cmd.Context(), pipeline.ViewMyDivision, 0, "")
		},
	}
}

func divisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "division <id>",
		Short: "Show one division (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runScreen(cmd.Context(), pipeline.ViewDivision, id, "")
		},
	}
}

func blockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <division-id> <block>",
		Short: "Show one block within a division (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runScreen(cmd.Context(), pipeline.ViewBlock, id, args[1])
		},
	}
}

func eventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the change log (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := requireToken()
			if err != nil {
				return err
			}
			items, err := analyticssdk.New(apiURL(cfg), token).Events(cmd.Context(), n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable("ID", "Time", "Type", "Entity", "Actor")
			for _, ev := range items {
				tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, fmt.Sprintf("%s/%d", ev.EntityKind, ev.EntityID), ev.ActorID})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage " + config.FileName,
		Long:  "Config holds listen addresses, the API URL the console reads from, the fetch timeout and the seed data. The JWT secret is read from BANKCTL_JWT_SECRET only.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

// runScreen computes one screen locally against the backend API, reading as
// the user the token was issued to.
func runScreen(ctx context.Context, kind pipeline.ViewKind, divisionID int64, block string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := requireToken()
	if err != nil {
		return err
	}
	p, err := auth.PeekToken(token)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if kind == pipeline.ViewDivision || kind == pipeline.ViewBlock {
		if err := auth.RequireAdmin(p, "analytics.division.read"); err != nil {
			return err
		}
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	actor := analytics.Actor{UserID: p.UserID, Role: p.Role, DivisionID: p.DivisionID}
	runner := pipeline.NewRunner(pipeline.SourceFor(analyticssdk.New(apiURL(cfg), token), actor), logger)
	runner.Timeout = cfg.FetchTimeout()
	res, err := runner.Run(ctx, pipeline.Request{Actor: actor, Kind: kind, DivisionID: divisionID, Block: block})
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(res)
	}
	switch {
	case res.Dashboard != nil:
		printDashboard(*res.Dashboard)
	case res.Block != nil:
		fmt.Printf("Block: %s\n", res.Block.Block)
		printDivision(res.Block.DivisionView)
		printMembers(res.Block.Members)
	case res.Division != nil:
		printDivision(*res.Division)
	}
	printOrphans(res.Orphans)
	return nil
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	conn, err := app.OpenWorkspace(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn, cfg, logger))
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func apiURL(cfg *config.Config) string {
	if u := viper.GetString("api-url"); u != "" {
		return u
	}
	return cfg.Console.APIURL
}

func jwtSecret() (string, error) {
	secret := viper.GetString("jwt-secret")
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("BANKCTL_JWT_SECRET is required for bearer auth")
	}
	return secret, nil
}

func requireToken() (string, error) {
	token := viper.GetString("token")
	if token == "" {
		return "", fmt.Errorf("--token or BANKCTL_TOKEN required (see bankctl login)")
	}
	return token, nil
}

func listen(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

// dash renders an empty cell the way the screens do.
func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}

func printTiles(t analytics.DashboardTiles) {
	tw := newTable("Goals", "Completed", "Tasks", "Completed", "Pending", "Overdue goals", "Overdue tasks")
	tw.AppendRow(table.Row{t.TotalGoals, t.CompletedGoals, t.TotalTasks, t.CompletedTasks, t.PendingTasks, t.OverdueGoals, t.OverdueTasks})
	tw.Render()
}

func printDashboard(v analytics.DashboardView) {
	printTiles(v.Tiles)
	if len(v.GoalsByDivision) > 0 {
		tw := newTable("Division", "Goals completed", "Goals in progress")
		for _, b := range v.GoalsByDivision {
			tw.AppendRow(table.Row{b.Name, b.Completed, b.InProgress})
		}
		tw.Render()
	}
	if len(v.TasksByDivision) > 0 {
		tw := newTable("Division", "Tasks completed", "Tasks pending")
		for _, b := range v.TasksByDivision {
			tw.AppendRow(table.Row{b.Name, b.Completed, b.Pending})
		}
		tw.Render()
	}
	if len(v.StatusCounts) > 0 {
		tw := newTable("Status", "Tasks")
		for _, s := range []domain.TaskStatus{domain.StatusNotStarted, domain.StatusInProgress, domain.StatusCompleted, domain.StatusOnHold, domain.StatusCancelled} {
			if n, ok := v.StatusCounts[s]; ok {
				tw.AppendRow(table.Row{s, n})
			}
		}
		tw.Render()
	}
}

func printDivision(v analytics.DivisionView) {
	fmt.Printf("Division: %s\n", v.Division.Name)
	printTiles(v.Tiles)
	goals := newTable("ID", "Goal", "Deadline", "Progress")
	for _, g := range v.Goals {
		goals.AppendRow(table.Row{g.ID, g.Title, dash(g.Deadline.String()), fmt.Sprintf("%d%%", g.Progress)})
	}
	goals.Render()
	tasks := newTable("ID", "Task", "Goal", "Status", "Progress", "Start", "End", "Assignee")
	for _, t := range v.Tasks {
		tasks.AppendRow(table.Row{
			t.ID, t.Title, dash(t.ParentGoalTitle), t.Status, fmt.Sprintf("%d%%", t.Progress),
			dash(t.StartDate.String()), dash(t.EndDate.String()), dash(t.Assignee),
		})
	}
	tasks.Render()
	if len(v.Assignees) > 0 {
		tw := newTable("Assignee", "Completed", "Pending", "Total")
		for _, a := range v.Assignees {
			tw.AppendRow(table.Row{dash(a.Name), a.Completed, a.Pending, a.Total})
		}
		tw.Render()
	}
}

func printMembers(members []analytics.MemberRow) {
	tw := newTable("ID", "Member", "Email", "Role")
	for _, m := range members {
		tw.AppendRow(table.Row{m.ID, m.Name, m.Email, m.Role})
	}
	tw.Render()
}

func printOrphans(o analytics.OrphanReport) {
	if o.Empty() {
		return
	}
	fmt.Fprintf(os.Stderr, "warning: %d goal(s) with unknown division, %d task(s) with unknown goal, %d task(s) under those goals, %d unknown assignee(s)\n",
		len(o.Goals), len(o.Tasks), len(o.UnattributedTasks), len(o.UnknownAssignees))
}
