package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmanager/internal/app"
	"taskmanager/internal/config"
	"taskmanager/internal/db"
	"taskmanager/internal/domain"
	"taskmanager/internal/engine"
	"taskmanager/internal/migrate"
	"taskmanager/internal/repo"
	"taskmanager/internal/server"
	"taskmanager/internal/tracing"
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Task manager CLI",
	Long: `tm tracks epics, stories, tasks and generic items through their lifecycle.
Changing an item's status runs the lifecycle actions for that kind of item:
- Epic DEFINED: goes on top of the project backlog and the product owner is notified.
- Story DEFINED: moves to the ready lane when it has no tasks, otherwise teams are asked to pick it up.
- Task DEFINED: joins the ready lane of its sprint.
- Task APPROVED/IN_PROGRESS/DONE: updates the parent story's approvals and progress.
- RELEASED: publishes a release event for every kind of item.
Everything that happens lands in the event log, view it with 'tm log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := configureLogging(); err != nil {
			return err
		}
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKMANAGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("project", "", "project id (defaults to the only project in the workspace)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func configureLogging() error {
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	switch viper.GetString("log-format") {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", viper.GetString("log-format"))
	}
	return nil
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(storyCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(backlogCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc, ownerFirst, ownerLast, ownerEmail, ownerPhone string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and its product owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, conn engineOpener) error {
				projectID := strings.TrimSpace(id)
				if projectID == "" {
					projectID = uuid.NewString()
				}
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				if cfg == nil {
					cfg = config.Default(projectID)
				}
				cfg.Project.ID = projectID
				e := conn(cfg)
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:             projectID,
					Name:           name,
					Description:    desc,
					OwnerFirstName: ownerFirst,
					OwnerLastName:  ownerLast,
					OwnerEmail:     ownerEmail,
					OwnerPhone:     ownerPhone,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&ownerFirst, "owner-first-name", "", "product owner first name")
	cmd.Flags().StringVar(&ownerLast, "owner-last-name", "", "product owner last name")
	cmd.Flags().StringVar(&ownerEmail, "owner-email", "", "product owner email")
	cmd.Flags().StringVar(&ownerPhone, "owner-phone", "", "product owner phone")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Status", "Product owner")
				for _, p := range items {
					owner := ""
					if p.ProductOwner != nil {
						owner = p.ProductOwner.FullName()
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, owner})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage project config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := e.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	})
	var filePath string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			imported, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				imported.Project.ID = e.Config.Project.ID
				if err := e.Repo.UpsertProjectConfig(ctx, e.Config.Project.ID, imported); err != nil {
					return err
				}
				return printJSONOrTable(imported)
			})
		},
	}
	imp.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = imp.MarkFlagRequired("file")
	cfg.AddCommand(imp)
	return cfg
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage teams"}
	var id, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a team in the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTeam(ctx, engine.TeamCreateOptions{ID: id, ProjectID: e.Config.Project.ID, Name: name, ActorID: viper.GetString("actor-id")})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "team id (generated when empty)")
	create.Flags().StringVar(&name, "name", "", "team name")
	_ = create.MarkFlagRequired("name")
	team.AddCommand(create)
	team.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				teams, err := e.Repo.ListTeams(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(teams)
			})
		},
	})
	return team
}

func sprintCmd() *cobra.Command {
	sprint := &cobra.Command{Use: "sprint", Short: "Manage sprints"}
	var id, name, start, end string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a sprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSprint(ctx, engine.SprintCreateOptions{
					ID:        id,
					ProjectID: e.Config.Project.ID,
					Name:      name,
					StartDate: start,
					EndDate:   end,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "sprint id (generated when empty)")
	create.Flags().StringVar(&name, "name", "", "sprint name")
	create.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	create.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	_ = create.MarkFlagRequired("name")
	sprint.AddCommand(create)
	sprint.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sprints, err := e.Repo.ListSprints(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(sprints)
			})
		},
	})
	return sprint
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage work items",
		Long:  "Work items are epics, stories, tasks or generic items. New items start in TO_BE_DEFINED.",
	}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemStatusCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var opts engine.ItemCreateOptions
	var kind string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ProjectID = e.Config.Project.ID
				opts.Kind = domain.Kind(kind)
				opts.ActorID = viper.GetString("actor-id")
				it, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (generated when empty)")
	cmd.Flags().StringVar(&kind, "kind", "", "epic, story, task or generic")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.EpicID, "epic", "", "parent epic (stories)")
	cmd.Flags().StringVar(&opts.StoryID, "story", "", "parent story (tasks)")
	cmd.Flags().StringVar(&opts.SprintID, "sprint", "", "sprint (tasks)")
	cmd.Flags().BoolVar(&opts.Subtask, "subtask", false, "mark the task as a subtask")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				items, err := e.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Kind", "Title", "Status", "Parent", "Sprint")
				for _, it := range items {
					parent := it.EpicID
					if it.StoryID != "" {
						parent = it.StoryID
					}
					tw.AppendRow(table.Row{it.ID, it.Kind, it.Title, it.Status, parent, it.SprintID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "filter by kind")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.StoryID, "story", "", "filter by parent story")
	cmd.Flags().StringVar(&f.SprintID, "sprint", "", "filter by sprint")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max items")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func itemStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change an item's status and run its lifecycle actions",
		Long:  "Statuses: TO_BE_DEFINED, DEFINED, APPROVED, IN_PROGRESS, DONE, RELEASED.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status := domain.Status(strings.ToUpper(strings.TrimSpace(args[1])))
				res, err := e.ChangeStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s %s: %s -> %s (%s)\n", res.Item.Kind, res.Item.ID, res.FromStatus, res.Item.Status, res.Outcome)
				if res.Detail != "" {
					fmt.Println("  " + res.Detail)
				}
				return nil
			})
		},
	}
}

func storyCmd() *cobra.Command {
	story := &cobra.Command{Use: "story", Short: "Story operations"}
	var assignee, team string
	assign := &cobra.Command{
		Use:   "assign <story-id>",
		Short: "Assign a story to a person or a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.AssignStory(ctx, args[0], assignee, team, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	assign.Flags().StringVar(&assignee, "assignee", "", "assignee id")
	assign.Flags().StringVar(&team, "team", "", "team id")
	story.AddCommand(assign)
	return story
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Task operations"}
	var sprintID string
	schedule := &cobra.Command{
		Use:   "schedule <task-id>",
		Short: "Schedule a task in a sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.ScheduleTask(ctx, args[0], sprintID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	schedule.Flags().StringVar(&sprintID, "sprint", "", "sprint id")
	_ = schedule.MarkFlagRequired("sprint")
	task.AddCommand(schedule)
	return task
}

func backlogCmd() *cobra.Command {
	backlog := &cobra.Command{Use: "backlog", Short: "Backlogs"}
	var sprintID, lane string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the project backlog, or a sprint's ready lane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Backlog(ctx, e.Config.Project.ID, sprintID, lane)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("#", "Item", "Kind", "Title")
				for _, b := range entries {
					tw.AppendRow(table.Row{b.Position, b.ItemID, b.ItemKind, b.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	show.Flags().StringVar(&sprintID, "sprint", "", "sprint id")
	show.Flags().StringVar(&lane, "lane", "", "project or ready")
	backlog.AddCommand(show)
	return backlog
}

func notifyCmd() *cobra.Command {
	notify := &cobra.Command{Use: "notify", Short: "Notifications"}
	var f repo.NotificationFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications sent to product owners and teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				items, err := e.Notifications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("When", "To", "Item", "Message")
				for _, n := range items {
					tw.AppendRow(table.Row{n.CreatedAt, n.RecipientKind + ":" + n.RecipientID, n.ItemID, n.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.RecipientID, "recipient", "", "recipient id")
	list.Flags().StringVar(&f.ItemID, "item", "", "item id")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max notifications")
	notify.AddCommand(list)
	return notify
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every creation, status change and lifecycle action is recorded here.",
	}
	var n int
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				events, err := e.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor", "Payload")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	var name, forActor string
	var allProjects bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key, limited to --project unless --all-projects is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, open engineOpener) error {
				e := open(nil)
				opts := engine.APIKeyIssueOptions{
					ActorID:  forActor,
					Name:     name,
					IssuedBy: viper.GetString("actor-id"),
				}
				if opts.ActorID == "" {
					opts.ActorID = opts.IssuedBy
				}
				if !allProjects {
					projectID, _, err := app.ResolveProjectAndConfig(ctx, viper.GetString("workspace"), viper.GetString("project"), e.Repo)
					if err != nil {
						return err
					}
					opts.ProjectID = projectID
				}
				key, secret, err := e.IssueAPIKey(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				scope := key.ProjectID
				if scope == "" {
					scope = "all projects"
				}
				fmt.Printf("API key %s for %s on %s (shown once):\n%s\n", key.ID, key.ActorID, scope, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	create.Flags().StringVar(&forActor, "for", "", "actor the key acts as (defaults to --actor-id)")
	create.Flags().BoolVar(&allProjects, "all-projects", false, "issue a key that reaches every project")
	keys.AddCommand(create)
	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys, filtered by --project when set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, open engineOpener) error {
				items, err := open(nil).ListAPIKeys(ctx, repo.APIKeyFilters{ProjectID: viper.GetString("project")})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Project", "Actor", "Name", "Created", "Last used")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ProjectID, k.ActorID, k.Name, k.CreatedAt, k.LastUsedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	keys.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, open engineOpener) error {
				return open(nil).RevokeAPIKey(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	})
	return keys
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var trace, legacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and webhook delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("TASKMANAGER_JWT_SECRET is required for bearer auth")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				log := logrus.StandardLogger()
				if trace {
					shutdown, err := tracing.InitTracer("taskmanager", os.Stderr)
					if err != nil {
						return err
					}
					defer func() {
						sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						_ = shutdown(sctx)
					}()
				}
				stopWebhooks, err := server.StartWebhookDispatcher(e.Repo, e.Config, log)
				if err != nil {
					return err
				}
				defer stopWebhooks()
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, AllowLegacyActorHeader: legacyActor, Logger: log},
					Log:      log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath, "project": e.Config.Project.ID}).Info("serving API")
				fmt.Printf("Serving Task Manager API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&trace, "trace", false, "export spans to stderr")
	cmd.Flags().BoolVar(&legacyActor, "allow-actor-header", false, "accept X-Actor-Id without a token")
	cmd.Flags().String("jwt-secret", "", "HMAC secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

type engineOpener func(cfg *config.Config) engine.Engine

func withDB(ctx context.Context, fn func(context.Context, engineOpener) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, func(cfg *config.Config) engine.Engine {
		return engine.New(conn, cfg, logrus.StandardLogger())
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	return withDB(ctx, func(ctx context.Context, open engineOpener) error {
		r := open(nil).Repo
		_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), r)
		if err != nil {
			return err
		}
		return fn(ctx, open(cfg))
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withDB(ctx, func(ctx context.Context, open engineOpener) error {
		return fn(ctx, open(nil).Repo)
	})
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
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
