package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"mathquest/internal/domain"
	"mathquest/internal/game"
	pgloader "mathquest/internal/infra/postgres"
	pgmigrations "mathquest/internal/infra/postgres/migrations"
	infraredis "mathquest/internal/infra/redis"
)

func TestTournamentEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedTemplate(t, ctx, pgURL, sampleTemplate())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewTemplateLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	templates := infraredis.NewTemplateRepository(redisClient, loader, 5*time.Minute)
	store := infraredis.NewSnapshotStore(redisClient, 5*time.Minute, zap.NewNop())
	registry := game.NewRegistry(zap.NewNop(), time.Minute, time.Hour)
	service := game.NewService(registry, templates, store, zap.NewNop())

	summary, err := service.CreateGame(ctx, domain.GameConfig{
		Creator:    "t1",
		TemplateID: "tmpl-1",
		PlayMode:   domain.PlayModeLive,
	})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	code := summary.AccessCode

	if _, err := service.JoinLobby(ctx, code, domain.LobbyParticipant{UserID: "u1", Username: "Alice"}); err != nil {
		t.Fatalf("join lobby: %v", err)
	}
	if _, err := service.JoinLobby(ctx, code, domain.LobbyParticipant{UserID: "u2", Username: "Bob"}); err != nil {
		t.Fatalf("join lobby: %v", err)
	}
	if err := service.StartGame(ctx, code, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := service.SubmitAnswer(ctx, code, "u2", "q1", []string{"o2"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Correct || result.Score <= 0 {
		t.Fatalf("expected scored correct answer, got %+v", result)
	}

	// The leaderboard must be mirrored to Redis and ordered by score.
	lb, err := store.LoadLeaderboard(ctx, code)
	if err != nil {
		t.Fatalf("load leaderboard: %v", err)
	}
	if len(lb.Entries) == 0 || lb.Entries[0].UserID != "u2" {
		t.Fatalf("expected Bob leading in redis, got %+v", lb.Entries)
	}

	snap, err := store.LoadGame(ctx, code)
	if err != nil {
		t.Fatalf("load game snapshot: %v", err)
	}
	if snap.Status != domain.GameStatusRunning {
		t.Fatalf("expected running snapshot, got %+v", snap)
	}

	// Ending the game must remove every Redis key for this access code.
	if err := service.EndGame(ctx, code, "t1"); err != nil {
		t.Fatalf("end game: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		keys, err := redisClient.Keys(ctx, "mathquest:*"+code+"*").Result()
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		if len(keys) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cleanup left keys: %v", keys)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestTemplateCacheMissFallsBackToPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedTemplate(t, ctx, pgURL, sampleTemplate())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	templates := infraredis.NewTemplateRepository(redisClient, pgloader.NewTemplateLoader(pool), 5*time.Minute)

	template, err := templates.GetTemplate(ctx, "tmpl-1")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if len(template.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(template.Questions))
	}

	if _, err := templates.GetTemplate(ctx, "missing"); !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected template not found, got %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "mathquest", "POSTGRES_PASSWORD": "mathpass", "POSTGRES_DB": "mathdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://mathquest:mathpass@%s:%s/mathdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedTemplate(t *testing.T, ctx context.Context, dsn string, template domain.QuizTemplate) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(template)
	if err != nil {
		t.Fatalf("marshal template: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quiz_templates (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, template.ID, string(data)); err != nil {
		t.Fatalf("insert template: %v", err)
	}
}

func sampleTemplate() domain.QuizTemplate {
	return domain.QuizTemplate{
		ID:   "tmpl-1",
		Name: "Arithmetic",
		Questions: []domain.Question{
			{
				UID:  "q1",
				Text: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5", Correct: false},
				},
				DurationMs: 20_000,
			},
			{
				UID:  "q2",
				Text: "What is 7 × 8?",
				Options: []domain.Option{
					{ID: "o1", Text: "56", Correct: true},
					{ID: "o2", Text: "54", Correct: false},
				},
				DurationMs: 20_000,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
