package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"orbit/internal/app"
	"orbit/internal/breakdown"
	"orbit/internal/config"
	"orbit/internal/db"
	"orbit/internal/domain"
	"orbit/internal/engine"
	"orbit/internal/migrate"
	"orbit/internal/proxy"
	"orbit/internal/repo"
	"orbit/internal/server"
	"orbit/internal/stats"
	"orbit/internal/watch"
)

var rootCmd = &cobra.Command{
	Use:   "orbit",
	Short: "Orbit CLI",
	Long: `Orbit is a focus-first mission tracker for people whose attention wanders.
Core ideas:
- Workspace: your .orbit directory with the database; config lives in orbit.yml next to it.
- Mission: one piece of work with a duration, optional subtasks, and a status that moves pending -> in-progress -> complete. Only one mission can be in progress at a time, on purpose.
- Breakdown: AI providers (Claude, Gemini, OpenAI, in configured order) split a scary task into 3-6 small subtasks; if every provider fails you still get a usable plan.
- Templates: canned missions (deep-focus, study-session, quick-task, refresh) to skip the blank-page problem.
- Stats: streaks and achievements computed from your completion history, so progress is visible.
- Event log: diary of changes, view with 'orbit log tail'.`,
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
	viper.SetEnvPrefix("ORBIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("owner", "", "owner id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(breakdownCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(proxyCmd())
}

func initCmd() *cobra.Command {
	var ownerID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s\n", path)
				return nil
			}
			if ownerID == "" {
				ownerID = "local-user"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(ownerID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace; config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "owner id to seed in the config")
	return cmd
}

func missionCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "mission",
		Short: "Manage missions",
		Long:  "Missions are the work items. They flow pending -> in-progress -> complete, carry an estimated duration, and can hold AI-generated subtasks. Starting one blocks starting another until it is finished or reverted.",
	}
	m.AddCommand(missionCreateCmd())
	m.AddCommand(missionListCmd())
	m.AddCommand(missionGetCmd())
	m.AddCommand(missionUpdateCmd())
	m.AddCommand(missionStartCmd())
	m.AddCommand(missionCompleteCmd())
	m.AddCommand(missionRevertCmd())
	m.AddCommand(missionDeleteCmd())
	m.AddCommand(missionBreakdownCmd())
	m.AddCommand(missionSubtaskCmd())
	return m
}

func missionCreateCmd() *cobra.Command {
	var title, description string
	var duration int
	var subtasks []string
	var useAI bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				opts := engine.MissionCreateOptions{
					OwnerID:     ownerID,
					Title:       title,
					Description: description,
					ActorID:     ownerID,
				}
				if cmd.Flags().Changed("duration") {
					opts.Duration = duration
				}
				for _, st := range subtasks {
					opts.Subtasks = append(opts.Subtasks, domain.Subtask{Title: st})
				}
				if useAI && len(opts.Subtasks) == 0 {
					analyzer := breakdown.NewAnalyzer(ctx, e.Config, nil)
					res := analyzer.Analyze(ctx, strings.TrimSpace(title+"\n"+description))
					opts.Subtasks = res.Subtasks
					opts.Suggestions = res.Suggestions
					opts.AIProvider = res.Provider
				}
				mission, err := e.CreateMission(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(mission)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().IntVar(&duration, "duration", 0, "estimated duration in minutes")
	cmd.Flags().StringArrayVar(&subtasks, "subtask", []string{}, "subtask title (repeatable)")
	cmd.Flags().BoolVar(&useAI, "ai", false, "ask the provider chain for a breakdown")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func missionListCmd() *cobra.Command {
	var status, template string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				missions, err := e.Repo.ListMissions(ctx, repo.MissionFilters{
					OwnerID:  ownerID,
					Status:   status,
					Template: template,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(missions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Duration", "Subtasks"})
				for _, m := range missions {
					tw.AppendRow(table.Row{m.ID, m.Title, m.Status, m.Duration, len(m.Subtasks)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, in-progress, complete)")
	cmd.Flags().StringVar(&template, "template", "", "template filter")
	return cmd
}

func missionGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				m, err := e.Repo.GetMission(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func missionUpdateCmd() *cobra.Command {
	var title, description string
	var duration int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.MissionUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("duration") {
				opts.Duration = &duration
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				opts.ActorID = ownerID
				m, err := e.UpdateMission(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().IntVar(&duration, "duration", 0, "new duration in minutes")
	return cmd
}

func missionStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				m, err := e.StartMission(ctx, id, ownerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func missionCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				m, err := e.CompleteMission(ctx, id, ownerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func missionRevertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <id>",
		Short: "Revert a mission to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				m, err := e.RevertMission(ctx, id, ownerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func missionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				return e.DeleteMission(ctx, id, ownerID)
			})
		},
	}
	return cmd
}

func missionBreakdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakdown <id>",
		Short: "Break a mission into subtasks and attach them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				m, err := e.Repo.GetMission(ctx, id)
				if err != nil {
					return err
				}
				task := m.Title
				if m.Description != "" {
					task = m.Title + "\n" + m.Description
				}
				analyzer := breakdown.NewAnalyzer(ctx, e.Config, nil)
				res := analyzer.Analyze(ctx, task)
				updated, err := e.AttachBreakdown(ctx, id, res.Subtasks, res.Suggestions, res.Provider, ownerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	return cmd
}

func missionSubtaskCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "subtask <mission-id> <subtask-id>",
		Short: "Set subtask status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				m, err := e.SetSubtaskStatus(ctx, args[0], args[1], status, ownerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "completed", "subtask status (pending, completed)")
	return cmd
}

func templateCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "template",
		Short: "Mission templates",
	}
	t.AddCommand(templateListCmd())
	t.AddCommand(templateUseCmd())
	return t
}

func templateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := engine.Templates()
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Duration", "Description"})
			for _, t := range items {
				tw.AppendRow(table.Row{t.ID, t.Name, t.Duration, t.Description})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func templateUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Create a mission from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				m, err := e.CreateFromTemplate(ctx, ownerID, templateID, ownerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func breakdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakdown <task...>",
		Short: "Break a task into subtasks without saving anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			analyzer := breakdown.NewAnalyzer(cmd.Context(), cfg, nil)
			res := analyzer.Analyze(cmd.Context(), task)
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("Title: %s\nProvider: %s\n", res.Title, res.Provider)
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Subtask", "Minutes", "Difficulty"})
			for i, st := range res.Subtasks {
				tw.AppendRow(table.Row{i + 1, st.Title, st.EstimatedDuration, st.Difficulty})
			}
			tw.Render()
			for _, s := range res.Suggestions {
				fmt.Println("tip:", s)
			}
			return nil
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show streaks and achievements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				counts, err := e.Repo.CountMissionsByStatus(ctx, ownerID)
				if err != nil {
					return err
				}
				completed, err := e.Repo.CompletedMissions(ctx, ownerID)
				if err != nil {
					return err
				}
				total := 0
				for _, n := range counts {
					total += n
				}
				s := domain.Stats{
					TotalMissions:     total,
					CompletedMissions: counts[domain.StatusComplete],
					CurrentStreak:     stats.Streak(completed, time.Local),
					BestStreak:        stats.BestStreak(completed, time.Local),
					Achievements:      stats.Achievements(completed, time.Local),
				}
				if active, err := e.Repo.ActiveMission(ctx, ownerID); err == nil {
					s.ActiveMission = &active
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Missions: %d total, %d complete\n", s.TotalMissions, s.CompletedMissions)
				if s.ActiveMission != nil {
					fmt.Printf("Active: %s - %s\n", s.ActiveMission.ID, s.ActiveMission.Title)
				}
				fmt.Printf("Streak: %d (best %d)\n", s.CurrentStreak, s.BestStreak)
				for _, a := range s.Achievements {
					fmt.Printf("  %s %s\n", a.Icon, a.Label)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: creates, starts, completions, breakdowns.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, missionID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				events, err := e.Repo.LatestEvents(ctx, n, ownerID, evtType, missionID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&missionID, "mission", "", "mission id filter")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch missions for changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				w := watch.New(e.Repo)
				done := make(chan error, 1)
				cancel, err := w.Subscribe(ctx, ownerID, func(missions []domain.Mission) {
					fmt.Printf("--- %s ---\n", time.Now().Format(time.Kitchen))
					for _, m := range missions {
						fmt.Printf("%s  %-12s %s\n", m.ID, m.Status, m.Title)
					}
				}, func(err error) {
					done <- err
				})
				if err != nil {
					return err
				}
				defer cancel()
				select {
				case <-ctx.Done():
					return nil
				case err := <-done:
					return err
				}
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	a.AddCommand(apikeyCreateCmd())
	a.AddCommand(apikeyListCmd())
	a.AddCommand(apikeyDeleteCmd())
	return a
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "orbit_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:        uuid.NewString(),
					OwnerID:   ownerID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "key": secret})
				}
				fmt.Printf("API key %s created. Store it now; it will not be shown again:\n%s\n", key.ID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				keys, err := e.Repo.ListAPIKeys(ctx, ownerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, ownerID string) error {
				return e.Repo.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("no orbit.yml in workspace; run 'orbit init'")
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err == nil && cfg == nil {
				err = fmt.Errorf("no orbit.yml in workspace; run 'orbit init'")
			}
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if _, err := app.ResolveOwner(cmd.Context(), viper.GetString("owner"), cfg, r); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("ORBIT_JWT_SECRET"),
				AllowLegacyOwnerHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" && !allowLegacyHeader {
				return fmt.Errorf("ORBIT_JWT_SECRET is required for bearer auth (or pass --allow-owner-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Orbit API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-owner-header", false, "accept the X-Owner-Id header instead of auth (local use only)")
	return cmd
}

func proxyCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the Claude relay proxy",
		Long:  "A small relay that forwards chat requests to Anthropic, keeping the API key server-side. Retries only when the upstream says to.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			apiKey := os.Getenv("ANTHROPIC_API_KEY")
			if cfg != nil {
				if apiKey == "" {
					apiKey = cfg.Proxy.APIKey
				}
				if addr == "" {
					addr = cfg.Proxy.Addr
				}
			}
			if addr == "" {
				addr = ":3001"
			}
			p := proxy.New(apiKey, nil)
			if cfg != nil {
				if cfg.Proxy.Retries > 0 {
					p.Retries = cfg.Proxy.Retries
				}
				if cfg.Proxy.BackoffSec > 0 {
					p.Backoff = time.Duration(cfg.Proxy.BackoffSec) * time.Second
				}
			}
			srv := &http.Server{Addr: addr, Handler: p.Handler()}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Claude proxy listening on %s\n", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config proxy.addr or :3001)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	ownerID, err := app.ResolveOwner(ctx, viper.GetString("owner"), cfg, r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e, ownerID)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
