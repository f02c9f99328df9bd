package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"narrative-playout/internal/clock"
	"narrative-playout/internal/narrative"
	"narrative-playout/internal/platform/config"
	"narrative-playout/internal/platform/logger"
	"narrative-playout/internal/platform/metrics"
	"narrative-playout/internal/playout"
	"narrative-playout/internal/session"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := config.Load(); err != nil {
		logger.New("info", "json").Warn("could not read .env", "error", err)
	}
	cfg := config.LoadServer(clock.DefaultQueueSize)

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	playback, err := config.LoadPlayback()
	if err != nil {
		log.Error("invalid playback configuration", "error", err)
		os.Exit(1)
	}

	story, err := narrative.LoadStory(cfg.StoryPath)
	if err != nil {
		log.Error("could not load story", "path", cfg.StoryPath, "error", err)
		os.Exit(1)
	}
	ctrl, err := narrative.NewStoryController(story, log)
	if err != nil {
		log.Error("invalid story", "path", cfg.StoryPath, "error", err)
		os.Exit(1)
	}
	catalog, err := narrative.NewCatalog(story, cfg.MediaBaseURL)
	if err != nil {
		log.Error("invalid media base url", "url", cfg.MediaBaseURL, "error", err)
		os.Exit(1)
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loop := clock.NewLoop(cfg.QueueSize)
	go loop.Run(loopCtx)

	met := metrics.New()
	instances := playout.NewInstanceManager(session.Capacity(playback),
		playout.SimFactory(loop, playback.SimBufferDelay))
	surface := session.NewRecordingSurface()
	pool := playout.NewPool(loop, instances,
		playout.WithLogger(log),
		playout.WithMetrics(met),
		playout.WithSeekPolicy(session.SeekPolicy(playback)),
		playout.WithAffordances(surface))

	sess := session.New(session.Config{
		Clock:      loop,
		Pool:       pool,
		Surface:    surface,
		Controller: ctrl,
		Fetcher:    catalog,
		Policy:     session.RendererPolicy(playback),
		Logger:     log,
		Metrics:    met,
	})
	h := session.NewHandler(sess, loop, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			_ = loop.Do(r.Context(), func() {
				st := pool.Stats()
				met.SetPoolGauges(st.Queued, st.Active, st.InstancesInUse)
			})
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"story", story.ID,
		"session_id", sess.ID(),
		"foreground_outputs", playback.ForegroundOutputs,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	if err := loop.Do(ctx, sess.Close); err != nil {
		log.Warn("session close skipped", "error", err)
	}

	log.Info("server stopped")
}
