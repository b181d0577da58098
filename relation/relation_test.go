package relation_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/samlev/loom"
	"github.com/samlev/loom/dialect"
	sqldialect "github.com/samlev/loom/dialect/sql"
	"github.com/samlev/loom/hook"
	"github.com/samlev/loom/query"
	"github.com/samlev/loom/relation"
	"github.com/samlev/loom/schema"
)

type team struct {
	loom.Entity
	ID   int
	Name string
}

func (*team) RelationNames() []string { return []string{"players", "captain"} }

type player struct {
	loom.Entity
	ID     int
	Name   string
	TeamID int `loom:"team_id"`
}

func (*player) RelationNames() []string { return []string{"team"} }

func openDB(t *testing.T) *sqldialect.Driver {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE teams (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '')`,
		`CREATE TABLE players (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '', team_id INTEGER NOT NULL DEFAULT 0)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return sqldialect.OpenDB(dialect.SQLite, db)
}

func seedTeam(t *testing.T, drv *sqldialect.Driver, name string) *team {
	t.Helper()
	tm := &team{Name: name}
	require.NoError(t, query.New(drv, schema.MustDescribe(tm)).CreateOne(context.Background(), tm))
	require.NotZero(t, tm.ID)
	return tm
}

func TestHasManyRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := openDB(t)
	tm := seedTeam(t, drv, "reds")

	players, err := relation.HasMany(drv, tm, &player{})
	require.NoError(t, err)
	_, err = players.Inverse("")
	require.NoError(t, err)

	require.NoError(t, players.Create(ctx, &player{Name: "ann"}))
	require.NoError(t, players.Create(ctx, &player{Name: "ben"}))

	got, err := players.All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		p := m.(*player)
		assert.Equal(t, tm.ID, p.TeamID)
		assert.Same(t, tm, p.Relation("team"), "fetched children carry the exact parent instance")
	}
}

func TestMakeDoesNotPersist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := openDB(t)
	tm := seedTeam(t, drv, "reds")

	players, err := relation.HasMany(drv, tm, &player{})
	require.NoError(t, err)
	_, err = players.Inverse("team")
	require.NoError(t, err)

	p := &player{Name: "ann"}
	m, err := players.Make(p)
	require.NoError(t, err)
	assert.Same(t, p, m)
	assert.Equal(t, tm.ID, p.TeamID)
	assert.Same(t, tm, p.Relation("team"))

	ok, err := players.Exist(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "Make builds in memory only")
}

func TestCreateManyAggregatesFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := openDB(t)
	tm := seedTeam(t, drv, "reds")

	players, err := relation.HasMany(drv, tm, &player{})
	require.NoError(t, err)

	// The duplicate key fails; the remaining inserts still run.
	err = players.CreateMany(ctx, []loom.Model{
		&player{ID: 1, Name: "ann"},
		&player{ID: 1, Name: "dup"},
		&player{ID: 2, Name: "ben"},
	})
	require.Error(t, err)
	assert.True(t, loom.IsConstraintError(err) || loom.IsMutationError(err))

	got, err := players.All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCreateQuietlySkipsHooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := openDB(t)
	tm := seedTeam(t, drv, "reds")

	var fired int
	players, err := relation.HasMany(drv, tm, &player{}, relation.WithHooks(
		func(next hook.Mutator) hook.Mutator {
			return hook.MutatorFunc(func(ctx context.Context, m hook.Mutation) error {
				fired++
				return next.Mutate(ctx, m)
			})
		},
	))
	require.NoError(t, err)

	require.NoError(t, players.Create(ctx, &player{Name: "ann"}))
	assert.Equal(t, 1, fired)

	require.NoError(t, players.CreateQuietly(ctx, &player{Name: "ben"}))
	require.NoError(t, players.CreateManyQuietly(ctx, []loom.Model{&player{Name: "cal"}}))
	assert.Equal(t, 1, fired, "quiet variants bypass the hook chain")
}

func TestSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := openDB(t)
	tm := seedTeam(t, drv, "reds")

	players, err := relation.HasMany(drv, tm, &player{})
	require.NoError(t, err)
	_, err = players.Inverse("team")
	require.NoError(t, err)

	p := &player{Name: "ann"}
	require.NoError(t, players.Save(ctx, p))
	require.NotZero(t, p.ID)
	assert.Same(t, tm, p.Relation("team"), "saved children carry the parent instance")

	p.Name = "anna"
	require.NoError(t, players.Save(ctx, p))

	got, err := players.All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "anna", got[0].(*player).Name)
}

func TestSaveMany(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := openDB(t)
	tm := seedTeam(t, drv, "reds")

	players, err := relation.HasMany(drv, tm, &player{})
	require.NoError(t, err)

	require.NoError(t, players.SaveMany(ctx, []loom.Model{
		&player{Name: "ann"},
		&player{Name: "ben"},
	}))
	got, err := players.All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestHasOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := openDB(t)
	tm := seedTeam(t, drv, "reds")

	captain, err := relation.HasOne(drv, tm, &player{})
	require.NoError(t, err)
	require.NoError(t, captain.Create(ctx, &player{Name: "ann"}))

	m, err := captain.Only(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ann", m.(*player).Name)
}

func TestBelongsTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := openDB(t)
	tm := seedTeam(t, drv, "reds")

	p := &player{Name: "ann", TeamID: tm.ID}
	require.NoError(t, query.New(drv, schema.MustDescribe(p)).CreateOne(ctx, p))

	owner, err := relation.BelongsTo(drv, p, &team{})
	require.NoError(t, err)
	assert.Equal(t, "team_id", owner.ForeignKey())

	m, err := owner.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, tm.ID, m.(*team).ID)

	// Builds are refused; children of a belongs-to are associated instead.
	_, err = owner.Make(&team{})
	assert.ErrorContains(t, err, "use Associate")

	other := seedTeam(t, drv, "blues")
	require.NoError(t, owner.Associate(other))
	assert.Equal(t, other.ID, p.TeamID)

	require.NoError(t, owner.Dissociate())
	assert.Zero(t, p.TeamID)
}

func TestEagerLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := openDB(t)
	reds := seedTeam(t, drv, "reds")
	blues := seedTeam(t, drv, "blues")

	for _, p := range []*player{
		{Name: "ann", TeamID: reds.ID},
		{Name: "ben", TeamID: reds.ID},
		{Name: "cal", TeamID: blues.ID},
	} {
		require.NoError(t, query.New(drv, schema.MustDescribe(p)).CreateOne(ctx, p))
	}

	build := func(parent loom.Model) (*relation.Relation, error) {
		r, err := relation.HasMany(drv, parent, &player{})
		if err != nil {
			return nil, err
		}
		return r.Inverse("team")
	}
	parents := []loom.Model{reds, blues}
	require.NoError(t, relation.Load(ctx, parents, map[string]relation.Build{"players": build}))

	require.True(t, reds.RelationLoaded("players"))
	redPlayers := reds.Relation("players").([]loom.Model)
	require.Len(t, redPlayers, 2)
	for _, m := range redPlayers {
		assert.Same(t, reds, m.Relation("team"), "batch-loaded children carry their own parent")
	}
	bluePlayers := blues.Relation("players").([]loom.Model)
	require.Len(t, bluePlayers, 1)
	assert.Same(t, blues, bluePlayers[0].Relation("team"))
}
