package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/law1om/analytics-platform/internal/config"
	"github.com/law1om/analytics-platform/internal/db"
	"github.com/law1om/analytics-platform/internal/engine"
	"github.com/law1om/analytics-platform/internal/engine/auth"
	"github.com/law1om/analytics-platform/internal/migrate"
	"github.com/law1om/analytics-platform/internal/repo"
)

type SeedResult struct {
	Divisions int `json:"divisions"`
	Users     int `json:"users"`
}

// Seed creates the configured divisions and users that do not exist yet.
// Existing rows are left untouched so it can run on every start.
func Seed(ctx context.Context, eng engine.Engine, seed config.Seed) (SeedResult, error) {
	var res SeedResult
	if err := seed.Validate(); err != nil {
		return res, err
	}
	ids := map[string]int64{}
	for _, sd := range seed.Divisions {
		d, err := eng.Repo.DivisionByName(ctx, nil, sd.Name)
		if err == nil {
			ids[sd.Name] = d.ID
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
		d, err = eng.CreateDivision(ctx, auth.System, engine.DivisionInput{Name: sd.Name, Description: sd.Description, Blocks: sd.Blocks})
		if err != nil {
			return res, fmt.Errorf("seed division %s: %w", sd.Name, err)
		}
		ids[sd.Name] = d.ID
		res.Divisions++
	}
	for _, su := range seed.Users {
		if _, err := eng.Repo.UserByEmail(ctx, nil, su.Email); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
		in := engine.UserInput{Name: su.Name, Email: su.Email, Password: su.Password, Role: su.Role, Block: su.Block}
		if su.Division != "" {
			id := ids[su.Division]
			in.DivisionID = &id
		}
		if _, err := eng.CreateUser(ctx, auth.System, in); err != nil {
			return res, fmt.Errorf("seed user %s: %w", su.Email, err)
		}
		res.Users++
	}
	eng.Logger.Info("seed applied", zap.Int("divisions", res.Divisions), zap.Int("users", res.Users))
	return res, nil
}

// OpenWorkspace opens the workspace database and applies pending migrations.
func OpenWorkspace(ctx context.Context, workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}
