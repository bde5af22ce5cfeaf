package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"encorely/config"
	"encorely/controllers"
	"encorely/database"
	"encorely/progress"
	"encorely/routes"
	"encorely/services"
	"encorely/setlistfm"
	"encorely/spotify"
	"encorely/ticketmaster"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn("no .env file found, using default configuration")
	}

	db, err := database.InitDB()
	if err != nil {
		log.Fatal("failed to connect to database", "err", err)
	}

	bus := progress.NewBus(config.Import.ProgressGrace)
	importer := services.NewImporter(db, bus,
		spotify.NewClient(),
		ticketmaster.NewClient(),
		setlistfm.NewClient(),
	)
	importController := controllers.NewImportController(db, bus, importer)
	sweeper := services.NewStatusSweeper(db, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	routes.SetupRoutes(r, importController)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "err", err)
	}

	if err := database.ShutdownDB(); err != nil {
		log.Error("error closing database", "err", err)
	}

	log.Info("server exited")
}
