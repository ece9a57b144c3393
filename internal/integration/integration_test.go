package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/engine"
	"quiz-attempt-engine/internal/gateway"
	"quiz-attempt-engine/internal/infra/memory"
	infrapg "quiz-attempt-engine/internal/infra/postgres"
	pgmigrations "quiz-attempt-engine/internal/infra/postgres/migrations"
	infraredis "quiz-attempt-engine/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	applyMigrations(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	backend := startFakeBackend(t)
	defer backend.Close()

	client := gateway.NewClient(backend.URL, 5*time.Second)
	store := infraredis.NewSnapshotStore(redisClient, "it-user", time.Hour)
	configs := infraredis.NewConfigRepository(redisClient,
		memory.NewStaticConfigLoader(memory.DefaultConfigs()), time.Minute)
	archive := infrapg.NewAttemptArchive(pool)

	eng := engine.New(client, store, configs, engine.Options{TickInterval: time.Hour}).
		WithArchive(archive)
	defer eng.Close()

	if err := eng.Start(ctx, domain.KindTimeQuiz); err != nil {
		t.Fatalf("start: %v", err)
	}

	fb, err := eng.SaveAnswer(ctx, 0, domain.SingleChoice("b"), true)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if fb == nil || !fb.IsCorrect {
		t.Fatalf("expected correct feedback, got %+v", fb)
	}

	// The snapshot is live in redis while the attempt runs.
	if _, ok, err := store.Load(ctx); err != nil || !ok {
		t.Fatalf("expected snapshot in redis: ok=%v err=%v", ok, err)
	}

	result, err := eng.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result == nil || result.EarnedPoints != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	// Snapshot cleared, result archived.
	if _, ok, _ := store.Load(ctx); ok {
		t.Fatalf("expected snapshot cleared after submit")
	}
	archived, err := archive.LoadResult(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("load archived result: %v", err)
	}
	if archived.EarnedPoints != 2 {
		t.Fatalf("unexpected archived result %+v", archived)
	}
}

// startFakeBackend serves the exam backend contract for one scripted attempt.
func startFakeBackend(t *testing.T) *httptest.Server {
	t.Helper()

	session := domain.QuizSession{
		ID:               "sess-it",
		Kind:             domain.KindTimeQuiz,
		SessionToken:     "tok-it",
		TotalQuestions:   1,
		TimeLimitSeconds: 300,
		Questions: []domain.SessionQuestion{
			{QuestionID: "q1", Type: domain.TypeSingleChoice,
				Options: []domain.Option{{ID: "a"}, {ID: "b"}}, Points: 2},
		},
		StartTime: time.Now(),
		Status:    domain.StatusInProgress,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/quiz/start", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"session": session, "message": "started"})
	})
	mux.HandleFunc("/quiz/session/tok-it", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.RemoteSession{
			Session:              session,
			TimeRemainingSeconds: 290,
		})
	})
	mux.HandleFunc("/quiz/session/tok-it/answer", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":       true,
			"is_correct":    true,
			"points_earned": 2,
		})
	})
	mux.HandleFunc("/quiz/session/tok-it/navigate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/quiz/session/tok-it/skip", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/quiz/session/tok-it/submit", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.QuizResult{
			SessionID:      "sess-it",
			Kind:           domain.KindTimeQuiz,
			TotalQuestions: 1,
			CorrectAnswers: 1,
			TotalPoints:    2,
			EarnedPoints:   2,
			CompletedAt:    time.Now().UTC(),
		})
	})
	return httptest.NewServer(mux)
}

func applyMigrations(t *testing.T, ctx context.Context, dsn string) {
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
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
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
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
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
