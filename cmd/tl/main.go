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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/activity"
	"taskline/internal/app"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	"taskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline tracks hierarchical tasks with a full activity trail.
- Workspace: the .taskline directory holds the database; taskline.yml holds defaults.
- Project > app > module: modules own tasks and the counter behind task codes (HOM-1, HOM-1.2).
- Tasks: feature/bug/improvement items, todo -> in_progress -> in_review -> done.
  Completion is guarded: subtasks must be done first, and only the creator or
  reporter may close a task that carries both.
- Activity: every mutation lands in the project feed and the per-task history,
  view with 'tl activity' and 'tl task history'.`,
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
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier (empty runs privileged)")
	rootCmd.PersistentFlags().String("actor-name", "", "actor display name")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(moduleCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(labelCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorFromFlags() *domain.Actor {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return nil
	}
	return &domain.Actor{ID: id, Name: strings.TrimSpace(viper.GetString("actor-name"))}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project and seed taskline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngineNoProject(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, id, "", name, desc, actorFromFlags())
				if err != nil {
					return err
				}
				if err := app.WriteConfig(viper.GetString("workspace"), p.ID); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "project description")
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
				return printJSONOrTable(items)
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				id := viper.GetString("project")
				if len(args) == 1 {
					id = args[0]
				}
				if id == "" {
					p, err := r.SingleProject(ctx)
					if err != nil {
						return err
					}
					id = p.ID
				}
				p, err := r.GetProject(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func appCmd() *cobra.Command {
	a := &cobra.Command{Use: "app", Short: "Manage apps"}
	a.AddCommand(appCreateCmd())
	a.AddCommand(appListCmd())
	return a
}

func appCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create app in the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateApp(ctx, e.Config.Project.ID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "app name")
	return cmd
}

func appListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List apps in the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				apps, err := e.Repo.ListApps(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(apps)
			})
		},
	}
}

func moduleCmd() *cobra.Command {
	m := &cobra.Command{Use: "module", Short: "Manage modules"}
	m.AddCommand(moduleCreateCmd())
	m.AddCommand(moduleListCmd())
	return m
}

func moduleCreateCmd() *cobra.Command {
	var appID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create module in an app",
		RunE: func(cmd *cobra.Command, args []string) error {
			if appID == "" || name == "" {
				return fmt.Errorf("--app and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CreateModule(ctx, appID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "app id")
	cmd.Flags().StringVar(&name, "name", "", "module name")
	return cmd
}

func moduleListCmd() *cobra.Command {
	var appID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List modules in an app",
		RunE: func(cmd *cobra.Command, args []string) error {
			if appID == "" {
				return fmt.Errorf("--app required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				modules, err := e.Repo.ListModules(ctx, appID)
				if err != nil {
					return err
				}
				return printJSONOrTable(modules)
			})
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "app id")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskStatusCmd())
	t.AddCommand(taskReorderCmd())
	t.AddCommand(taskDeleteCmd())
	t.AddCommand(taskCommentCmd())
	t.AddCommand(taskHistoryCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts struct {
		module, parent, title, desc, taskType, priority string
		assignee, remarks, startDate, endDate           string
	}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task or subtask",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.module == "" || opts.title == "" {
				return fmt.Errorf("--module and --title required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					ModuleID:    opts.module,
					ParentID:    opts.parent,
					Title:       opts.title,
					Description: opts.desc,
					Type:        domain.TaskType(opts.taskType),
					Priority:    domain.Priority(opts.priority),
					AssignedTo:  opts.assignee,
					Remarks:     opts.remarks,
					StartDate:   opts.startDate,
					EndDate:     opts.endDate,
					Actor:       actorFromFlags(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.module, "module", "", "module id")
	cmd.Flags().StringVar(&opts.parent, "parent", "", "parent task id (makes a subtask)")
	cmd.Flags().StringVar(&opts.title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.desc, "description", "", "task description")
	cmd.Flags().StringVar(&opts.taskType, "type", "", "feature|bug|improvement")
	cmd.Flags().StringVar(&opts.priority, "priority", "", "low|medium|high|urgent")
	cmd.Flags().StringVar(&opts.assignee, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&opts.remarks, "remarks", "", "remarks")
	cmd.Flags().StringVar(&opts.startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.endDate, "end", "", "end date (YYYY-MM-DD)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var moduleID, parentID, status, assignee string
	var rootOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
					ModuleID:   moduleID,
					ParentID:   parentID,
					RootOnly:   rootOnly,
					Status:     status,
					AssignedTo: assignee,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Title", "Type", "Priority", "Status", "Assignee"})
				for _, t := range tasks {
					assignedTo := ""
					if t.AssignedTo != nil {
						assignedTo = *t.AssignedTo
					}
					tw.AppendRow(table.Row{t.Code, t.Title, t.Type, t.Priority, t.Status, assignedTo})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&moduleID, "module", "", "module id")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent task id")
	cmd.Flags().BoolVar(&rootOnly, "roots", false, "root tasks only")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show task with subtasks, comments and labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var flags struct {
		title, desc, taskType, priority, status   string
		assignee, remarks, startDate, endDate     string
		reporter, reporterName                    string
	}
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ID: args[0], Actor: actorFromFlags()}
			if cmd.Flags().Changed("title") {
				opts.Title = &flags.title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &flags.desc
			}
			if cmd.Flags().Changed("type") {
				tt := domain.TaskType(flags.taskType)
				opts.Type = &tt
			}
			if cmd.Flags().Changed("priority") {
				p := domain.Priority(flags.priority)
				opts.Priority = &p
			}
			if cmd.Flags().Changed("status") {
				s := domain.Status(flags.status)
				opts.Status = &s
			}
			if cmd.Flags().Changed("assignee") {
				opts.AssignedTo = &flags.assignee
			}
			if cmd.Flags().Changed("remarks") {
				opts.Remarks = &flags.remarks
			}
			if cmd.Flags().Changed("start") {
				opts.StartDate = &flags.startDate
			}
			if cmd.Flags().Changed("end") {
				opts.EndDate = &flags.endDate
			}
			if cmd.Flags().Changed("reporter") {
				opts.ReporterID = &flags.reporter
			}
			if cmd.Flags().Changed("reporter-name") {
				opts.ReporterName = &flags.reporterName
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&flags.title, "title", "", "task title")
	cmd.Flags().StringVar(&flags.desc, "description", "", "task description")
	cmd.Flags().StringVar(&flags.taskType, "type", "", "feature|bug|improvement")
	cmd.Flags().StringVar(&flags.priority, "priority", "", "low|medium|high|urgent")
	cmd.Flags().StringVar(&flags.status, "status", "", "todo|in_progress|in_review|done")
	cmd.Flags().StringVar(&flags.assignee, "assignee", "", "assignee id (empty clears)")
	cmd.Flags().StringVar(&flags.remarks, "remarks", "", "remarks")
	cmd.Flags().StringVar(&flags.startDate, "start", "", "start date (empty clears)")
	cmd.Flags().StringVar(&flags.endDate, "end", "", "end date (empty clears)")
	cmd.Flags().StringVar(&flags.reporter, "reporter", "", "reporter id (creator only)")
	cmd.Flags().StringVar(&flags.reporterName, "reporter-name", "", "reporter display name")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change task status (fast path, audit written asynchronously)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ChangeTaskStatus(ctx, args[0], domain.Status(args[1]), actorFromFlags())
				if err != nil {
					return err
				}
				// The process is about to exit; let the audit write land.
				e.Audit.Wait()
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskReorderCmd() *cobra.Command {
	var moduleID, parentID string
	cmd := &cobra.Command{
		Use:   "reorder <id>...",
		Short: "Reorder sibling tasks to the given sequence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if moduleID == "" {
				return fmt.Errorf("--module required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ReorderTasks(ctx, engine.ReorderOptions{
					ModuleID: moduleID,
					ParentID: optionalString(parentID),
					IDs:      args,
				})
				if err != nil {
					return err
				}
				fmt.Printf("reordered %d tasks\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&moduleID, "module", "", "module id")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent task id (empty scopes roots)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task with its subtasks, comments and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], actorFromFlags())
			})
		},
	}
}

func taskCommentCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if body == "" {
				return fmt.Errorf("--body required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, engine.CommentOptions{
					Entity: domain.EntityRef{Kind: domain.KindTask, ID: args[0]},
					Body:   body,
					Actor:  actorFromFlags(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment body")
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the field-level change trail for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.Repo.ListTaskHistory(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Actor", "Field", "Old", "New"})
				for _, h := range rows {
					actor := h.ActorName
					if actor == "" {
						actor = h.ActorID
					}
					tw.AppendRow(table.Row{h.CreatedAt, actor, h.Field, h.OldValue, h.NewValue})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func labelCmd() *cobra.Command {
	l := &cobra.Command{Use: "label", Short: "Manage labels"}
	l.AddCommand(labelCreateCmd())
	l.AddCommand(labelListCmd())
	l.AddCommand(labelAttachCmd())
	l.AddCommand(labelDetachCmd())
	return l
}

func labelCreateCmd() *cobra.Command {
	var name, color string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create label in the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CreateLabel(ctx, e.Config.Project.ID, name, color)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label name")
	cmd.Flags().StringVar(&color, "color", "", "label color")
	return cmd
}

func labelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List labels in the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				labels, err := e.Repo.ListLabels(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(labels)
			})
		},
	}
}

func labelAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <task-id> <label-id>",
		Short: "Attach label to task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AttachLabel(ctx, args[0], args[1])
			})
		},
	}
}

func labelDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <task-id> <label-id>",
		Short: "Detach label from task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DetachLabel(ctx, args[0], args[1])
			})
		},
	}
}

func activityCmd() *cobra.Command {
	var taskID, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the activity feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				feed := activity.Service{Repo: e.Repo, PageSize: e.Config.ActivityPageSize()}
				var entries []domain.ActivityLog
				var err error
				if taskID != "" {
					entries, err = feed.EntityActivity(ctx, domain.EntityRef{Kind: domain.KindTask, ID: taskID}, limit)
				} else {
					var after int64
					if cursor != "" {
						if _, convErr := fmt.Sscanf(cursor, "%d", &after); convErr != nil {
							return fmt.Errorf("invalid cursor %q", cursor)
						}
					}
					entries, err = feed.ProjectActivity(ctx, e.Config.Project.ID, limit, after)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Message"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.ID, entry.CreatedAt, activity.FormatMessage(entry)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "restrict to one task")
	cmd.Flags().StringVar(&cursor, "cursor", "", "last seen entry id")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
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
			_, cfg, err := app.ResolveProject(cmd.Context(), workspace, viper.GetString("project"), r, actorFromFlags())
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:         os.Getenv("TASKLINE_JWT_SECRET"),
				AllowActorHeaders: cfg.Auth.AllowActorHeaders,
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
				e.Audit.Wait()
			}()
			fmt.Printf("Serving Taskline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
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
	_, cfg, err := app.ResolveProject(ctx, workspace, viper.GetString("project"), r, actorFromFlags())
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

// withEngineNoProject skips project resolution, for commands that create the
// project in the first place.
func withEngineNoProject(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	return fn(ctx, e)
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
