package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"blackjack-server/internal/database"
)

type Server struct {
	port               int
	db                 database.Service
	store              *TableStore
	dispatcher         *Dispatcher
	connectionManager  *ConnectionManager
	sessionManager     *SessionManager
	persistenceManager *PersistenceManager
	rateLimiter        *RateLimiter
	connectionHealth   *ConnectionHealth
	stop               chan struct{}
}

func NewServer() (*Server, *http.Server) {
	port, _ := strconv.Atoi(os.Getenv("PORT"))

	dbService := database.New()
	persistenceManager := NewPersistenceManager(dbService.Pool())

	if err := persistenceManager.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}

	store := NewTableStore()
	if err := loadPersistedState(persistenceManager, store); err != nil {
		log.Printf("Warning: Failed to load persisted state: %v", err)
		// Don't fatal - allow server to start with empty state
	}

	dispatcher := NewDispatcher(store, persistenceManager, persistenceManager, persistenceManager)

	s := &Server{
		port:               port,
		db:                 dbService,
		store:              store,
		dispatcher:         dispatcher,
		connectionManager:  NewConnectionManager(),
		sessionManager:     NewSessionManager(),
		persistenceManager: persistenceManager,
		rateLimiter:        NewRateLimiter(10, time.Second),
		connectionHealth:   NewConnectionHealth(),
		stop:               make(chan struct{}),
	}

	go s.periodicSaveTask()
	go s.cleanupTask()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer
}

// loadPersistedState restores live tables from the database.
func loadPersistedState(pm *PersistenceManager, store *TableStore) error {
	records, err := pm.LoadActiveTables(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load games: %w", err)
	}

	for _, record := range records {
		store.Restore(record)
		log.Printf("Restored game: %s (phase: %s, version: %d)",
			record.Table.GameID, record.Table.Phase, record.Version)
	}

	log.Printf("Loaded %d games", len(records))
	return nil
}

// periodicSaveTask persists every live table on an interval. Commits
// already write through, so this only catches up after storage
// hiccups.
func (s *Server) periodicSaveTask() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.saveAllTables()
		}
	}
}

func (s *Server) saveAllTables() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	savedCount := 0
	for _, record := range s.store.All() {
		if err := s.persistenceManager.SaveTable(ctx, record); err != nil {
			log.Printf("Periodic save failed for game %s: %v", record.Table.GameID, err)
		} else {
			savedCount++
		}
	}
	log.Printf("Periodic save completed: %d games persisted", savedCount)
}

// cleanupTask reaps tombstoned and expired tables hourly, in memory
// and in the database, and trims rate limiter bookkeeping.
func (s *Server) cleanupTask() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			removed := s.store.RemoveExpired()
			if len(removed) > 0 {
				log.Printf("Cleanup task: removed %d tables from memory", len(removed))
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			deleted, err := s.persistenceManager.CleanupExpired(ctx)
			cancel()
			if err != nil {
				log.Printf("Cleanup task failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("Cleanup task: deleted %d expired game rows", deleted)
			}

			s.rateLimiter.Cleanup()
		}
	}
}

// Shutdown saves all live tables and releases the database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)

	savedCount := 0
	for _, record := range s.store.All() {
		if err := s.persistenceManager.SaveTable(ctx, record); err != nil {
			log.Printf("Shutdown save failed for game %s: %v", record.Table.GameID, err)
		} else {
			savedCount++
		}
	}
	log.Printf("Shutdown: %d games persisted", savedCount)

	s.db.Close()
	return nil
}
