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

	"deskline/internal/app"
	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/lifecycle"
	"deskline/internal/migrate"
	"deskline/internal/repo"
	"deskline/internal/scanner"
	"deskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dsk",
	Short: "Deskline CLI",
	Long: `Deskline runs the office back-room: who may do what, and what happens next.
Core concepts:
- Workspace: your .deskline directory holding only the database; settings live in deskline.yml.
- Users: admins, partners, staff, and clients; each action is checked against an ordered rule table.
- Tasks: work items that move pending -> in_progress -> review -> completed, then get billed.
- Clients: permanent or guest accounts; guests expire and are swept away with their tasks.
- Billing: completed tasks are approved by authorized users and scheduled for retention cleanup.
- Notifications: assignees and creators are told when tasks move or hands change.
- Activity log: diary of every change, view with 'dsk log tail'.`,
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
	viper.SetEnvPrefix("DESKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id (or 'system')")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- user commands ---

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userGetCmd())
	u.AddCommand(userUpdateCmd())
	u.AddCommand(userSetRoleCmd())
	u.AddCommand(userDeleteCmd())
	u.AddCommand(userBootstrapCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var opts engine.CreateUserOptions
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Role = domain.Role(role)
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				u, err := e.CreateUser(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "user id (derived when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "", "role (ADMIN, PARTNER, BUSINESS_EXECUTIVE, BUSINESS_CONSULTANT, CLIENT)")
	cmd.Flags().BoolVar(&opts.CanApproveBilling, "can-approve-billing", false, "may approve billing")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				users, err := e.ListUsers(ctx, domain.Role(role), actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Active", "Billing"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role, u.IsActive, u.CanApproveBilling})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func userGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				u, err := e.GetProfile(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userUpdateCmd() *cobra.Command {
	var name, email string
	var approve, active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var opts engine.UpdateUserOptions
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("email") {
				opts.Email = &email
			}
			if cmd.Flags().Changed("can-approve-billing") {
				opts.CanApproveBilling = &approve
			}
			if cmd.Flags().Changed("active") {
				opts.IsActive = &active
			}
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				u, err := e.UpdateUser(ctx, id, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().BoolVar(&approve, "can-approve-billing", false, "may approve billing")
	cmd.Flags().BoolVar(&active, "active", true, "account active (false blocks the user)")
	return cmd
}

func userSetRoleCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "set-role <id>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if role == "" {
				return fmt.Errorf("--role required")
			}
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				u, err := e.ChangeUserRole(ctx, id, domain.Role(role), actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "new role")
	return cmd
}

func userDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				if err := e.DeleteUser(ctx, id, actor); err != nil {
					return err
				}
				fmt.Println("deleted", id)
				return nil
			})
		},
	}
	return cmd
}

func userBootstrapCmd() *cobra.Command {
	var id, name, role string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Seed a user without policy checks (dev only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || name == "" {
				return fmt.Errorf("--id and --name required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := app.Bootstrap(ctx, r, id, name, domain.Role(role))
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "ADMIN", "role")
	return cmd
}

// --- client commands ---

func clientCmd() *cobra.Command {
	c := &cobra.Command{Use: "client", Short: "Manage clients"}
	c.AddCommand(clientCreateCmd())
	c.AddCommand(clientListCmd())
	c.AddCommand(clientGetCmd())
	c.AddCommand(clientUpdateCmd())
	c.AddCommand(clientDeleteCmd())
	return c
}

func clientCreateCmd() *cobra.Command {
	var input lifecycle.CreateClientInput
	var expiry string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if expiry != "" {
				input.AccessExpiry = &expiry
			}
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				c, err := e.CreateClient(ctx, input, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&input.ID, "id", "", "client id (derived when empty)")
	cmd.Flags().StringVar(&input.ContactPerson, "contact", "", "contact person")
	cmd.Flags().StringVar(&input.CompanyName, "company", "", "company name")
	cmd.Flags().StringVar(&input.Email, "email", "", "email address")
	cmd.Flags().StringVar(&input.Phone, "phone", "", "phone number")
	cmd.Flags().BoolVar(&input.IsGuest, "guest", false, "guest account with expiring access")
	cmd.Flags().StringVar(&expiry, "access-expiry", "", "guest expiry (RFC 3339, default window when empty)")
	cmd.Flags().StringVar(&input.ManagerID, "manager-id", "", "managing user id (defaults to actor)")
	_ = cmd.MarkFlagRequired("contact")
	return cmd
}

func clientListCmd() *cobra.Command {
	var f repo.ClientFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				clients, err := e.ListClients(ctx, f, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(clients)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Contact", "Company", "Guest", "Expiry", "Manager"})
				for _, c := range clients {
					expiry := ""
					if c.AccessExpiry != nil {
						expiry = *c.AccessExpiry
					}
					tw.AppendRow(table.Row{c.ID, c.ContactPerson, c.CompanyName, c.IsGuest, expiry, c.ManagerID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ManagerID, "manager-id", "", "manager filter")
	cmd.Flags().BoolVar(&f.GuestOnly, "guests", false, "guests only")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func clientGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				c, err := e.GetClient(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func clientUpdateCmd() *cobra.Command {
	var contact, company, email, phone, manager, expiry string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var opts engine.UpdateClientOptions
			if cmd.Flags().Changed("contact") {
				opts.ContactPerson = &contact
			}
			if cmd.Flags().Changed("company") {
				opts.CompanyName = &company
			}
			if cmd.Flags().Changed("email") {
				opts.Email = &email
			}
			if cmd.Flags().Changed("phone") {
				opts.Phone = &phone
			}
			if cmd.Flags().Changed("manager-id") {
				opts.ManagerID = &manager
			}
			if cmd.Flags().Changed("access-expiry") {
				opts.AccessExpiry = &expiry
			}
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				c, err := e.UpdateClient(ctx, id, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&contact, "contact", "", "contact person")
	cmd.Flags().StringVar(&company, "company", "", "company name")
	cmd.Flags().StringVar(&email, "email", "", "email address (empty clears)")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number (empty clears)")
	cmd.Flags().StringVar(&manager, "manager-id", "", "managing user id")
	cmd.Flags().StringVar(&expiry, "access-expiry", "", "new guest expiry (RFC 3339)")
	return cmd
}

func clientDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete client and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				if err := e.DeleteClient(ctx, id, actor); err != nil {
					return err
				}
				fmt.Println("deleted", id)
				return nil
			})
		},
	}
	return cmd
}

// --- task commands ---

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskGetCmd())
	t.AddCommand(taskTransitionCmd())
	t.AddCommand(taskDeleteCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	var priority, due, clientID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Priority = domain.Priority(priority)
			opts.DueDate = optionalString(due)
			opts.ClientID = optionalString(clientID)
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				t, err := e.CreateTask(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (derived when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC 3339)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client the task belongs to")
	cmd.Flags().StringArrayVar(&opts.Assignees, "assignee", []string{}, "assignee user id (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.TaskStatus(status)
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				tasks, err := e.ListTasks(ctx, f, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Billing", "Priority", "Assignees"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.BillingStatus, t.Priority, strings.Join(t.Assignees, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().StringVar(&f.AssignedByID, "assigned-by", "", "creator filter")
	cmd.Flags().StringVar(&f.ClientID, "client-id", "", "client filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				t, err := e.GetTask(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskTransitionCmd() *cobra.Command {
	var status, billing string
	var assignees []string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Change task status, billing, or assignees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var req lifecycle.TransitionRequest
			if cmd.Flags().Changed("status") {
				s := domain.TaskStatus(status)
				req.Status = &s
			}
			if cmd.Flags().Changed("billing") {
				b := domain.BillingStatus(billing)
				req.Billing = &b
			}
			if cmd.Flags().Changed("assignee") {
				req.Assignees = assignees
			}
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				t, err := e.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				next, err := e.ApplyTaskTransition(ctx, t, req, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(next)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&billing, "billing", "", "new billing status")
	cmd.Flags().StringArrayVar(&assignees, "assignee", []string{}, "replacement assignee set (repeatable)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				if err := e.DeleteTask(ctx, id, actor); err != nil {
					return err
				}
				fmt.Println("deleted", id)
				return nil
			})
		},
	}
	return cmd
}

// --- notifications ---

func notifyCmd() *cobra.Command {
	n := &cobra.Command{Use: "notify", Short: "Notifications for the acting user"}
	n.AddCommand(notifyListCmd())
	n.AddCommand(notifyReadCmd())
	n.AddCommand(notifyClearCmd())
	return n
}

func notifyListCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				items, err := e.ListNotifications(ctx, actor, unread, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Content", "Read", "At"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Title, it.Content, it.IsRead, it.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	cmd.Flags().IntVar(&limit, "n", 50, "max rows")
	return cmd
}

func notifyReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				return e.MarkNotificationRead(ctx, id, actor)
			})
		},
	}
	return cmd
}

func notifyClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				n, err := e.ClearNotifications(ctx, actor)
				if err != nil {
					return err
				}
				fmt.Println("deleted", n)
				return nil
			})
		},
	}
	return cmd
}

// --- activity log ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
		Long:  "The diary of everything that happened: lifecycle changes, deletions, and role changes.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var typ, action, target string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				items, err := e.ActivityLog(ctx, n, typ, action, target, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&typ, "type", "", "entity type filter (task, client, user)")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	cmd.Flags().StringVar(&target, "target", "", "target entity id")
	return cmd
}

// --- status / config / whoami ---

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				counts, err := e.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration",
		Long:  "Settings read from deskline.yml: guest window, retention window, scan interval, webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate deskline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			cfg, err := config.FromFile(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("ok:", path)
			return nil
		},
	}
	return cmd
}

func whoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user's claim",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actor domain.Claim) error {
				return printJSONOrTable(actor)
			})
		},
	}
	return cmd
}

// --- scan / serve ---

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one expiry sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				report, err := scanner.New(e).RunTick(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, withScanner bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer e.DB.Close()
			authCfg := server.AuthConfig{
				JWTSecret:     os.Getenv("DESKLINE_JWT_SECRET"),
				AllowDevLogin: devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("DESKLINE_JWT_SECRET is required for bearer auth")
			}
			sc := scanner.New(e)
			handler, err := server.New(server.Config{Engine: e, Scanner: sc, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if withScanner {
				go sc.Run(cmd.Context())
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Deskline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the token-minting endpoint (dev only)")
	cmd.Flags().BoolVar(&withScanner, "with-scanner", true, "run the expiry scanner alongside the server")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	e, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer e.DB.Close()
	return fn(ctx, e)
}

func withActor(ctx context.Context, fn func(context.Context, *engine.Engine, domain.Claim) error) error {
	return withEngine(ctx, func(ctx context.Context, e *engine.Engine) error {
		actor, err := app.ResolveClaim(ctx, e.Repo, viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, actor)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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
