package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundvault/server/bot/domain"
)

type fakeRow struct {
	err  error
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.scan(dest...)
}

type fakeRows struct {
	rows [][3]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	*dest[0].(*string) = row[0].(string)
	*dest[1].(*int64) = row[1].(int64)
	*dest[2].(*int64) = row[2].(int64)
	return nil
}
func (r *fakeRows) Values() ([]any, error) { return nil, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type fakeDB struct {
	queryRowFn func(sql string, args []any) pgx.Row
	queryFn    func(sql string, args []any) (pgx.Rows, error)
	execErr    error
	execCalls  [][]any
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	return f.queryRowFn(sql, args)
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return f.queryFn(sql, args)
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execCalls = append(f.execCalls, args)
	return pgconn.CommandTag{}, f.execErr
}

func settingsRow(item domain.GuildSettings) pgx.Row {
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*string) = item.GuildID
		*dest[1].(*string) = item.Prefix
		*dest[2].(*float64) = item.DefaultVolume
		*dest[3].(*time.Time) = item.CreatedAt
		*dest[4].(*time.Time) = item.UpdatedAt
		return nil
	}}
}

func TestGetSettingsCreateOnRead(t *testing.T) {
	created := time.Now().Add(-time.Hour)
	stored := domain.GuildSettings{GuildID: "g1", Prefix: "!", DefaultVolume: 0.5, CreatedAt: created, UpdatedAt: created}

	db := &fakeDB{queryRowFn: func(string, []any) pgx.Row { return settingsRow(stored) }}
	s := NewStore(db)

	first := s.GetSettings(context.Background(), "g1")
	second := s.GetSettings(context.Background(), "g1")
	assert.Equal(t, stored, first)
	// The same row comes back, not a second default.
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestGetSettingsFallsBackToDefaults(t *testing.T) {
	db := &fakeDB{queryRowFn: func(string, []any) pgx.Row {
		return fakeRow{err: errors.New("connection refused")}
	}}
	s := NewStore(db)

	item := s.GetSettings(context.Background(), "g1")
	assert.Equal(t, "g1", item.GuildID)
	assert.Equal(t, domain.DefaultPrefix, item.Prefix)
	assert.Equal(t, domain.DefaultVolume, item.DefaultVolume)
}

func TestUpdateVolumeClampsBeforePersist(t *testing.T) {
	var gotArgs []any
	db := &fakeDB{queryRowFn: func(_ string, args []any) pgx.Row {
		gotArgs = args
		return settingsRow(domain.GuildSettings{GuildID: "g1"})
	}}
	s := NewStore(db)

	cases := map[float64]float64{-3: 0, 1.5: 1, 0.3: 0.3}
	for in, want := range cases {
		_, err := s.UpdateVolume(context.Background(), "g1", in)
		require.NoError(t, err)
		assert.Equal(t, want, gotArgs[1], "input %v", in)
	}
}

func TestUpdatePrefixError(t *testing.T) {
	db := &fakeDB{queryRowFn: func(string, []any) pgx.Row {
		return fakeRow{err: errors.New("down")}
	}}
	s := NewStore(db)

	_, err := s.UpdatePrefix(context.Background(), "g1", "?")
	require.Error(t, err)
	assert.Equal(t, domain.KindSettingsStore, domain.KindOf(err))
}

func TestLogPlaySwallowsErrors(t *testing.T) {
	db := &fakeDB{execErr: errors.New("down")}
	s := NewStore(db)

	s.LogPlay(context.Background(), "g1", "a.mp3", "u1")
	require.Len(t, db.execCalls, 1)
	assert.Equal(t, []any{"g1", "a.mp3", "u1"}, db.execCalls[0])
}

func TestGetStatsAggregation(t *testing.T) {
	db := &fakeDB{
		queryFn: func(string, []any) (pgx.Rows, error) {
			return &fakeRows{rows: [][3]any{
				{"a.mp3", int64(3), int64(2)},
				{"b.mp3", int64(1), int64(1)},
			}}, nil
		},
		queryRowFn: func(string, []any) pgx.Row {
			return fakeRow{scan: func(dest ...any) error {
				*dest[0].(*int64) = 4
				return nil
			}}
		},
	}
	s := NewStore(db)

	stats, err := s.GetStats(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, stats.TopFiles, 2)
	assert.Equal(t, domain.FilePlayStats{FileName: "a.mp3", PlayCount: 3, UniqueUsers: 2}, stats.TopFiles[0])
	assert.Equal(t, int64(4), stats.TotalPlays)
}

func TestClampFraction(t *testing.T) {
	assert.Equal(t, 0.0, ClampFraction(-1))
	assert.Equal(t, 1.0, ClampFraction(2))
	assert.Equal(t, 0.5, ClampFraction(0.5))
}

func TestNormalizePercent(t *testing.T) {
	assert.Equal(t, 0.0, NormalizePercent(-10))
	assert.Equal(t, 1.0, NormalizePercent(150))
	assert.InDelta(t, 0.3, NormalizePercent(30), 1e-9)
}
