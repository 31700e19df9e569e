package bootstrap

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/appleboy/graceful"
)

// startWithGracefulShutdown runs the HTTP server and background jobs
// under the graceful manager and blocks until shutdown completes.
func (app *Application) startWithGracefulShutdown() {
	m := graceful.NewManager()

	addServerRunningJob(m, app.Server)
	addServerShutdownJob(m, app.Server)

	app.Scheduler.Register(m)
	addSessionsGaugeJob(m, app)

	if app.RedisClient != nil {
		addRedisClientShutdownJob(m, app)
	}
	m.AddShutdownJob(func() error {
		if err := app.StateCache.Close(); err != nil {
			log.Printf("Error closing state cache: %v", err)
		}
		return nil
	})

	<-m.Done()
}

func addServerRunningJob(m *graceful.Manager, srv *http.Server) {
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()
		<-ctx.Done()
		return nil
	})
}

func addServerShutdownJob(m *graceful.Manager, srv *http.Server) {
	m.AddShutdownJob(func() error {
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
			return err
		}
		log.Println("Server exited")
		return nil
	})
}

func addRedisClientShutdownJob(m *graceful.Manager, app *Application) {
	m.AddShutdownJob(func() error {
		log.Println("Closing Redis connection...")
		if err := app.RedisClient.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
			return err
		}
		return nil
	})
}

// addSessionsGaugeJob keeps the sessions-active gauge current.
func addSessionsGaugeJob(m *graceful.Manager, app *Application) {
	if !app.Config.MetricsEnabled {
		return
	}
	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		update := func() {
			count, err := app.DB.CountAllActiveSessions()
			if err != nil {
				log.Printf("[Metrics] Failed to count active sessions: %v", err)
				return
			}
			app.MetricsRecorder.SetSessionsActive(float64(count))
		}

		update()
		for {
			select {
			case <-ticker.C:
				update()
			case <-ctx.Done():
				return nil
			}
		}
	})
}
