package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/picflow/internal/config"
	"github.com/kiranshivaraju/picflow/internal/store"
	"github.com/kiranshivaraju/picflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a pgvector Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("picflow_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Migrations first: the pool registers vector types on connect.
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: connStr, MaxOpenConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newUser(t *testing.T, s store.Store, name string) *models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), name)
	require.NoError(t, err)
	return u
}

func newPicture(t *testing.T, s store.Store, owner *int64, status models.ProcessingStatus) *models.Picture {
	t.Helper()
	p := &models.Picture{
		UserID:           owner,
		Name:             "beach.jpg",
		Description:      "Uploaded",
		OriginalPath:     "/data/pictures/" + uuid.NewString() + ".jpg",
		StorageBackend:   "local",
		ContentType:      "image/jpeg",
		FileSize:         2048,
		ProcessingStatus: status,
	}
	require.NoError(t, s.CreatePicture(context.Background(), p))
	return p
}

// --- Migrations ---

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db", store.MigrateURL("postgres://u:p@h:5432/db"))
	assert.Equal(t, "pgx5://u:p@h/db", store.MigrateURL("postgresql://u:p@h/db"))
	assert.Equal(t, "pgx5://h/db", store.MigrateURL("pgx5://h/db"))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	connStr := pool.Config().ConnString()
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))
}

// --- Users & API keys ---

func TestCreateUser_Duplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	u := newUser(t, s, "alice")
	assert.NotZero(t, u.ID)

	_, err := s.CreateUser(context.Background(), "alice")
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	u := newUser(t, s, "alice")

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    u.ID,
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "pf_abcde",
		Scopes:    []string{"upload", "read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "pf_abcde")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, u.ID, keys[0].UserID)
	assert.Equal(t, []string{"upload", "read"}, keys[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "pf_abcde")
	require.NoError(t, err)
	assert.NotNil(t, keys[0].LastUsedAt)

	assert.ErrorIs(t, s.CreateAPIKey(ctx, key), store.ErrDuplicateKey)
}

// --- Pictures ---

func TestPicture_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	u := newUser(t, s, "alice")

	p := newPicture(t, s, &u.ID, "")
	assert.NotZero(t, p.ID)

	got, err := s.GetPicture(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "beach.jpg", got.Name)
	assert.Equal(t, models.StatusPending, got.ProcessingStatus)
	assert.Equal(t, 0, got.ProcessingProgress)
	require.NotNil(t, got.UserID)
	assert.Equal(t, u.ID, *got.UserID)
	assert.Nil(t, got.ThumbnailPath)
	assert.Nil(t, got.Exif)
	assert.Nil(t, got.Embedding)
}

func TestPicture_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	_, err := s.GetPicture(context.Background(), 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPicture_UpdateDerivedFields(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	p := newPicture(t, s, nil, models.StatusPending)

	fNumber := 2.8
	lat, lon := -40.446111, -73.975
	taken := time.Date(2023, 7, 14, 7, 30, 0, 0, time.UTC)

	err := s.UpdatePicture(ctx, p.ID,
		store.WithProcessingState(models.StatusProcessing, 60),
		store.WithThumbnailPath("/data/pictures/thumb_beach.jpg"),
		store.WithExif(models.ExifInfo{Make: "Canon", FNumber: &fNumber, Latitude: &lat, Longitude: &lon}),
		store.WithTakenAt(&taken),
		store.WithName("Beach at dusk"),
		store.WithDescription("Waves on sand."),
		store.WithEmbedding([]float32{0.1, 0.2, 0.3}),
	)
	require.NoError(t, err)

	got, err := s.GetPicture(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.ProcessingStatus)
	assert.Equal(t, 60, got.ProcessingProgress)
	require.NotNil(t, got.ThumbnailPath)
	assert.Equal(t, "/data/pictures/thumb_beach.jpg", *got.ThumbnailPath)
	require.NotNil(t, got.Exif)
	assert.Equal(t, "Canon", got.Exif.Make)
	require.NotNil(t, got.Exif.Latitude)
	assert.InDelta(t, -40.446111, *got.Exif.Latitude, 1e-9)
	require.NotNil(t, got.TakenAt)
	assert.True(t, taken.Equal(*got.TakenAt))
	assert.Equal(t, "Beach at dusk", got.Name)
	assert.Equal(t, "Waves on sand.", got.Description)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
}

func TestPicture_FailedKeepsErrorAndRecoveryClearsIt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	p := newPicture(t, s, nil, models.StatusProcessing)

	require.NoError(t, s.UpdatePicture(ctx, p.ID,
		store.WithProcessingState(models.StatusFailed, 10),
		store.WithProcessingError("original file not found: /x.jpg")))

	got, err := s.GetPicture(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.ProcessingStatus)
	require.NotNil(t, got.ProcessingError)
	assert.Contains(t, *got.ProcessingError, "/x.jpg")

	require.NoError(t, s.UpdatePicture(ctx, p.ID, store.WithProcessingState(models.StatusPending, 0)))
	got, err = s.GetPicture(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProcessingError)
}

func TestPicture_UpdateNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	err := s.UpdatePicture(context.Background(), 9999, store.WithName("x"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPicture_ListByStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	pending := newPicture(t, s, nil, models.StatusPending)
	processing := newPicture(t, s, nil, models.StatusProcessing)
	newPicture(t, s, nil, models.StatusCompleted)
	newPicture(t, s, nil, models.StatusFailed)

	got, err := s.ListPicturesByStatus(ctx, models.StatusPending, models.StatusProcessing)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, pending.ID, got[0].ID)
	assert.Equal(t, processing.ID, got[1].ID)

	none, err := s.ListPicturesByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Tags ---

func TestTag_CaseInsensitiveUnique(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	created, err := s.CreateTag(ctx, "Beach", "")
	require.NoError(t, err)

	_, err = s.CreateTag(ctx, "beach", "")
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	found, err := s.FindTagByName(ctx, "BEACH")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Beach", found.Name)

	_, err = s.FindTagByName(ctx, "mountain")
	assert.ErrorIs(t, err, store.ErrNotFound)

	names, err := s.ListTagNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Beach"}, names)
}

func TestTag_AttachIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	u := newUser(t, s, "alice")
	p := newPicture(t, s, &u.ID, models.StatusProcessing)

	tag, err := s.CreateTag(ctx, "sunset", "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.AttachTagToPicture(ctx, p.ID, tag.ID))
		require.NoError(t, s.AttachTagToUser(ctx, u.ID, tag.ID))
	}

	tags, err := s.ListPictureTags(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "sunset", tags[0].Name)
}

func TestTag_ConcurrentCreateOneWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		duplicate int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateTag(ctx, "Dog", "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if err == store.ErrDuplicateKey {
				duplicate++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 4, duplicate)
}
