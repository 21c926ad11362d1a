package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmpoweredVote/EV-Forecast/internal/config"
	"github.com/EmpoweredVote/EV-Forecast/internal/db"
	"github.com/EmpoweredVote/EV-Forecast/internal/electiondata"
	"github.com/EmpoweredVote/EV-Forecast/internal/export"
	"github.com/EmpoweredVote/EV-Forecast/internal/middleware"
	"github.com/EmpoweredVote/EV-Forecast/internal/runs"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal("Invalid environment: ", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	db.Connect()
	electiondata.Init()
	runs.Init()

	runner := &runs.Runner{
		Store:   runs.NewGormStore(db.DB),
		Repo:    electiondata.NewGormRepository(db.DB),
		Options: cfg.Forecast,
	}
	if cfg.S3.Enabled() {
		w, err := export.Open("s3:///runs/"+export.RunIDPlaceholder+".json.gz", nil, export.S3Options(cfg.S3))
		if err != nil {
			log.Fatal("Failed to configure S3 export: ", err)
		}
		runner.Exports = append(runner.Exports, w)
	}

	var scheduler *runs.Scheduler
	if cfg.Schedule != "" {
		scheduler, err = runs.NewScheduler(cfg.Schedule, runner)
		if err != nil {
			log.Fatal("Failed to schedule forecasts: ", err)
		}
		scheduler.Start()
	}

	handlers := &runs.Handlers{Store: runner.Store, Runner: runner}
	limiter := middleware.NewRateLimiter(cfg.RateLimit, int(cfg.RateLimit)+1, 10*time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.CORSMiddleware)
	r.Get("/", RootHandler)
	r.Get("/metrics", runs.MetricsHandler)

	r.Mount("/forecasts", runs.SetupRoutes(handlers, cfg.AdminKeyHash, limiter))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		fmt.Printf("Server listening on port :%s...\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Listen and serve: ", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Shutdown: ", err)
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	runner.Wait()
}
