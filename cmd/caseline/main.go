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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
	"caseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "caseline",
	Short: "Caseline CLI",
	Long: `Caseline manages schema-driven case records and intake transactions.
Concepts:
- Workspace: the .caseline directory holding the SQLite database; caseline.yml holds schemas, definitions and roles.
- Schemas: named attribute sets (string/integer/boolean/date/entity/entity_list) that validate all record and transaction data.
- Transactions: units of work (e.g. an intake submission) that carry schema-validated data and can spawn records.
- Records: long-lived case entities created from a transaction; expiration is derived once at creation.
- Roles: permission sets like record.view or record.update-admin that gate operations and admin attribute visibility.
- Event log: append-only audit trail, view with 'caseline log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier for local operations")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/caseline.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(transactionCmd())
	rootCmd.AddCommand(logCmd())
}

// localPrincipal is the identity CLI commands act under. Local operators get
// the full agency role; remote callers authenticate through the API instead.
func localPrincipal() auth.Principal {
	return auth.Principal{
		ID:       viper.GetString("actor-id"),
		UserType: "agency",
		Roles:    []string{"agency-user"},
	}
}

func withApp(fn func(*app.Context) error) error {
	c, err := app.Bootstrap(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			secret := os.Getenv("CASELINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
			}
			return withApp(func(c *app.Context) error {
				handler, err := server.New(server.Config{
					Engine:   c.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, Logger: logger},
				})
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
				logger.Info().Str("addr", addr).Str("base_path", basePath).
					Msg("serving Caseline API (OpenAPI at /openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configCheckCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(c *app.Context) error {
				return printJSON(c.Config)
			})
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default caseline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the workspace configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Println("config ok:", path)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Mint access tokens"}
	t.AddCommand(tokenMintCmd())
	return t
}

func tokenMintCmd() *cobra.Command {
	var sub, userType string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a signed JWT for API access",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("CASELINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("CASELINE_JWT_SECRET is required")
			}
			if sub == "" {
				return fmt.Errorf("--sub is required")
			}
			now := time.Now()
			claims := jwt.MapClaims{
				"sub":       sub,
				"user_type": userType,
				"roles":     roles,
				"iat":       now.Unix(),
				"exp":       now.Add(ttl).Unix(),
			}
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "subject (actor id)")
	cmd.Flags().StringVar(&userType, "user-type", "public", "user type (public or agency)")
	cmd.Flags().StringSliceVar(&roles, "roles", []string{"public-user"}, "roles to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actor, userType, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the secret once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor is required")
			}
			return withApp(func(c *app.Context) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:       uuid.NewString(),
					ActorID:  actor,
					UserType: userType,
					Name:     name,
					KeyHash:  repo.HashAPIKey(secret),
				}
				if err := c.Engine.Repo.InsertAPIKey(cmd.Context(), nil, key); err != nil {
					return err
				}
				fmt.Println("api key id:", key.ID)
				fmt.Println("secret (save it now, it is not stored):", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&userType, "user-type", "public", "user type (public or agency)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(c *app.Context) error {
				keys, err := c.Engine.Repo.ListAPIKeys(cmd.Context(), actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "ACTOR", "USER TYPE", "NAME", "CREATED")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.UserType, k.Name, k.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(c *app.Context) error {
				return c.Engine.Repo.DeleteAPIKey(cmd.Context(), args[0])
			})
		},
	}
}

func recordCmd() *cobra.Command {
	r := &cobra.Command{Use: "record", Short: "Inspect records"}
	r.AddCommand(recordListCmd())
	r.AddCommand(recordGetCmd())
	return r
}

func recordListCmd() *cobra.Command {
	var status, definition, externalID string
	var pageNumber, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(c *app.Context) error {
				page, err := c.Engine.ListRecords(cmd.Context(), localPrincipal(), repo.RecordFilters{
					Status:              status,
					RecordDefinitionKey: definition,
					ExternalID:          externalID,
					PageNumber:          pageNumber,
					PageSize:            pageSize,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable("ID", "DEFINITION", "EXTERNAL ID", "STATUS", "EXPIRES", "VERSION")
				for _, v := range page.Items {
					tw.AppendRow(table.Row{v.Record.ID, v.Record.RecordDefinitionKey, v.Record.ExternalID, v.Status, v.Record.Expires, v.Record.Version})
				}
				fmt.Println(tw.Render())
				fmt.Printf("page %d, %d of %d total\n", page.PageNumber, len(page.Items), page.TotalElements)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&definition, "definition", "", "filter by record definition key")
	cmd.Flags().StringVar(&externalID, "external-id", "", "filter by external id")
	cmd.Flags().IntVar(&pageNumber, "page", 0, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "page size")
	return cmd
}

func recordGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one record with its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(c *app.Context) error {
				rec, err := c.Engine.GetRecord(cmd.Context(), localPrincipal(), args[0])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
}

func transactionCmd() *cobra.Command {
	t := &cobra.Command{Use: "transaction", Short: "Inspect transactions"}
	t.AddCommand(transactionListCmd())
	t.AddCommand(transactionGetCmd())
	return t
}

func transactionListCmd() *cobra.Command {
	var status, definition string
	var pageNumber, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(c *app.Context) error {
				page, err := c.Engine.ListTransactions(cmd.Context(), localPrincipal(), repo.TransactionFilters{
					Status:                   status,
					TransactionDefinitionKey: definition,
					PageNumber:               pageNumber,
					PageSize:                 pageSize,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable("ID", "DEFINITION", "STATUS", "CREATED BY", "VERSION")
				for _, v := range page.Items {
					tw.AppendRow(table.Row{v.Transaction.ID, v.Transaction.TransactionDefinitionKey, v.Transaction.Status, v.Transaction.CreatedBy, v.Transaction.Version})
				}
				fmt.Println(tw.Render())
				fmt.Printf("page %d, %d of %d total\n", page.PageNumber, len(page.Items), page.TotalElements)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&definition, "definition", "", "filter by transaction definition key")
	cmd.Flags().IntVar(&pageNumber, "page", 0, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "page size")
	return cmd
}

func transactionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one transaction with its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(c *app.Context) error {
				txn, err := c.Engine.GetTransaction(cmd.Context(), localPrincipal(), args[0])
				if err != nil {
					return err
				}
				return printJSON(txn)
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the audit log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(c *app.Context) error {
				events, err := c.Engine.Repo.LatestEvents(cmd.Context(), n, 0, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "TYPE", "ENTITY", "ACTOR")
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

// --- helpers ---

func newTable(cols ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row(cols))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
