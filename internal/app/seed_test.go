package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/law1om/analytics-platform/internal/config"
	"github.com/law1om/analytics-platform/internal/domain"
	"github.com/law1om/analytics-platform/internal/engine"
)

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := OpenWorkspace(ctx, t.TempDir())
	require.NoError(t, err)
	defer conn.Close()
	cfg := config.Default()
	eng := engine.New(conn, cfg, nil)

	res, err := Seed(ctx, eng, cfg.Seed)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Divisions: 1, Users: 2}, res)

	res, err = Seed(ctx, eng, cfg.Seed)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{}, res)

	divs, err := eng.Repo.ListDivisions(ctx)
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.Len(t, divs[0].Blocks, 3)

	admin, err := eng.Login(ctx, "admin@bank.com", "admin123")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, admin.Role)

	emp, err := eng.Login(ctx, "ramil@bank.com", "123123")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEmployee, emp.Role)
	require.NotNil(t, emp.DivisionID)
	assert.Equal(t, divs[0].ID, *emp.DivisionID)
}

func TestSeedRejectsUnknownDivision(t *testing.T) {
	ctx := context.Background()
	conn, err := OpenWorkspace(ctx, t.TempDir())
	require.NoError(t, err)
	defer conn.Close()
	eng := engine.New(conn, config.Default(), nil)
	_, err = Seed(ctx, eng, config.Seed{Users: []config.SeedUser{{Name: "x", Email: "x@bank.com", Password: "x", Role: "EMPLOYEE", Division: "Nowhere"}}})
	assert.Error(t, err)
}
