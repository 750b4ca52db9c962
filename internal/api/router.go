package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Segerberg/whisper-ui/internal/api/handlers"
	"github.com/Segerberg/whisper-ui/internal/api/middleware"
	"github.com/Segerberg/whisper-ui/internal/config"
	"github.com/Segerberg/whisper-ui/internal/media"
	"github.com/Segerberg/whisper-ui/internal/queue"
	"github.com/Segerberg/whisper-ui/internal/store"
	"github.com/Segerberg/whisper-ui/internal/taskstate"
	"github.com/Segerberg/whisper-ui/internal/transcripts"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	queue *queue.Client
}

// NewRouter wires the request layer. The queue client is owned by the
// caller and closed at shutdown.
func NewRouter(db *pgxpool.Pool, rdb *redis.Client, queueClient *queue.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		queue: queueClient,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Services
	records := transcripts.NewService(rt.db)
	files := store.NewFileStore(rt.cfg.Upload.UploadDir, rt.cfg.Upload.DataDir)
	prober := media.NewProber(rt.cfg.Engine.FFprobeBin)
	states := taskstate.NewStore(rt.redis, 0)

	transcriptH := handlers.NewTranscriptHandler(records, files, prober, rt.queue, states, rt.cfg.Upload)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/transcripts", func(r chi.Router) {
			r.Post("/", transcriptH.Upload)
			r.Get("/", transcriptH.List)
			r.Get("/{id}", transcriptH.Get)
			r.Delete("/{id}", transcriptH.Delete)
			r.Post("/{id}/transcribe", transcriptH.Transcribe)
			r.Post("/{id}/export/{format}", transcriptH.Export)
		})

		r.Get("/tasks/{taskID}", transcriptH.TaskStatus)
		r.Get("/files/{filename}", transcriptH.Download)
	})

	return r
}
