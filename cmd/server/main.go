package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wastewatch-backend/internal/config"
	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/dedup"
	"wastewatch-backend/internal/handlers"
	"wastewatch-backend/internal/ledger"
	"wastewatch-backend/internal/middleware"
	"wastewatch-backend/internal/oracle"
	"wastewatch-backend/internal/pipeline"
	"wastewatch-backend/internal/services"
	"wastewatch-backend/internal/storage"
	"wastewatch-backend/internal/websocket"
	"wastewatch-backend/pkg/logger"
	pkgredis "wastewatch-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

type storeWithCreate interface {
	database.ReportStore
	handlers.ReportCreator
}

func main() {
	bootLog := logger.New("info")

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog.WithError(err).Fatal("❌ invalid configuration")
	}
	log := logger.New(cfg.LogLevel)
	log.Info("🚀 WASTEWATCH BACKEND STARTING")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := services.NewFirebaseApp(ctx, services.FirebaseCredentials{
		ProjectID:     cfg.FirebaseProjectID,
		StorageBucket: cfg.FirebaseStorageBucket,
		Base64JSON:    cfg.FirebaseCredentialsBase64,
		File:          cfg.FirebaseCredentialsFile,
	})
	if err != nil {
		log.WithError(err).Fatal("❌ Firebase initialization failed")
	}

	store, closeStore := openStore(ctx, cfg, app, log)
	defer closeStore()

	storageClient, err := app.Storage(ctx)
	if err != nil {
		log.WithError(err).Fatal("❌ Firebase Storage client failed")
	}
	resolver := storage.NewResolver(storageClient, log)

	model, err := oracle.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.WithError(err).Fatal("❌ Gemini client failed")
	}
	judge := oracle.NewAdapter(model, resolver, cfg.FirebaseStorageBucket, log,
		oracle.WithTimeout(cfg.OracleTimeout),
		oracle.WithMaxRetries(cfg.OracleMaxRetries),
	)

	var guard dedup.Guard = dedup.NewMemoryGuard(cfg.DedupTTL)
	if cfg.RedisAddr != "" {
		redisClient, err := pkgredis.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			log.WithError(err).Warn("⚠️  Redis unavailable, using in-process delivery guard")
		} else {
			defer redisClient.Close()
			guard = dedup.NewRedisGuard(redisClient, cfg.DedupTTL)
			log.Info("✅ Redis delivery guard enabled")
		}
	}

	hub := websocket.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	notifiers := pipeline.MultiNotifier{hub}
	if cfg.NotificationsEnabled {
		if client, err := app.Messaging(ctx); err != nil {
			log.WithError(err).Warn("⚠️  FCM unavailable, push notifications disabled")
		} else {
			notifiers = append(notifiers, services.NewFCMService(client, log))
			log.Info("✅ Firebase Cloud Messaging enabled")
		}
	}

	opts := []pipeline.Option{
		pipeline.WithGuard(guard),
		pipeline.WithNotifier(notifiers),
		pipeline.WithMetadataReader(resolver),
		pipeline.WithLegacyFallback(cfg.LegacyCorrelation),
	}
	var geocoder *services.GeocodingService
	if cfg.GoogleMapsAPIKey != "" {
		if geocoder, err = services.NewGeocodingService(cfg.GoogleMapsAPIKey); err != nil {
			log.WithError(err).Warn("⚠️  geocoding disabled")
		} else {
			opts = append(opts, pipeline.WithGeocoder(geocoder))
		}
	}
	orchestrator := pipeline.New(store, judge, log, opts...)

	rescanner := pipeline.NewRescanner(store, orchestrator, hub,
		cfg.RescanInterval, cfg.RescanStuckAfter, cfg.RescanMaxAttempts, log)
	points := ledger.New(store, log)
	planner := services.NewDispatchPlanner(log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.HealthCheck)

	// Storage finalize events, delivered with an OIDC token from the event platform.
	r.Group(func(r chi.Router) {
		if cfg.PushAuthDisabled {
			log.Warn("⚠️  /events/storage accepts unauthenticated deliveries, restrict it at the network layer")
		} else {
			r.Use(middleware.PushAuth(cfg.PushAudience, cfg.PushServiceAccount, nil, log))
		}
		r.Post("/events/storage", handlers.HandleStorageEvent(orchestrator, log))
	})

	r.Get("/ws", websocket.HandleWebSocket(hub, cfg.JWTSecret, websocket.NewUpgrader(cfg.AllowedOrigins)))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, log))

		r.Post("/reports", handlers.CreateReport(store))
		r.Get("/reports/{id}", handlers.GetReport(store))
		r.Get("/me/account", handlers.GetMyAccount(points))

		if geocoder != nil {
			r.Post("/geocoding/reverse", handlers.ReverseGeocode(geocoder, log))
			r.Post("/geocoding/reverse/batch", handlers.BatchReverseGeocode(geocoder, log))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleSweeper))
			r.Get("/reports/groups", handlers.GetReportGroups(store))
			r.Get("/dispatch/queue", handlers.GetDispatchQueue(store, planner))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Post("/admin/reports/{id}/reanalyze", handlers.ReanalyzeReport(orchestrator, log))
			r.Post("/admin/accounts/{id}/award", handlers.AwardPoints(points))
		})
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("🔌 Ready to accept requests")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		rescanner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("❌ server stopped with error")
		os.Exit(1)
	}
	log.Info("server stopped")
}

// openStore selects the report store backend.
func openStore(ctx context.Context, cfg *config.Config, app *firebase.App, log *logrus.Logger) (storeWithCreate, func()) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL, log)
		if err != nil {
			log.WithError(err).Fatal("❌ database connection failed")
		}
		if err := database.Migrate(db, log); err != nil {
			log.WithError(err).Fatal("❌ database migrations failed")
		}
		return database.NewPostgresStore(db, log), func() { db.Close() }

	case config.BackendMemory:
		log.Warn("⚠️  using the in-memory report store, data is lost on restart")
		return database.NewMemoryStore(), func() {}

	default:
		client, err := app.Firestore(ctx)
		if err != nil {
			log.WithError(err).Fatal("❌ Firestore client failed")
		}
		log.Info("✅ Firestore report store ready")
		return database.NewFirestoreStore(client, log), func() { client.Close() }
	}
}
