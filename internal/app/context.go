// Package app wires the pieces a command needs: workspace database,
// migrations, configuration and the lifecycle engine.
package app

import (
	"database/sql"
	"fmt"
	"os"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/migrate"
)

// Context is a fully wired runtime for one workspace.
type Context struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Close releases the workspace database.
func (c *Context) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// Bootstrap opens the workspace database, applies migrations and loads the
// workspace config. A missing caseline.yml falls back to the built-in
// default so a fresh workspace works without ceremony; configPath, when set,
// overrides the workspace file.
func Bootstrap(workspace, configPath string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := resolveConfig(workspace, configPath)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{DB: conn, Config: cfg, Engine: eng}, nil
}

func resolveConfig(workspace, configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.FromFile(configPath)
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.FromFile(path)
}
