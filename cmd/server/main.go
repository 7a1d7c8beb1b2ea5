package main

import (
	"log"
	"net/http"
	"os"

	"github.com/adaptest/backend/internal/assessment"
	"github.com/adaptest/backend/internal/auth"
	"github.com/adaptest/backend/internal/database"
	"github.com/adaptest/backend/internal/engine"
	"github.com/adaptest/backend/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Engine configuration errors are fatal at startup, never at request time.
	cfg, err := engine.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid engine configuration: %v", err)
	}

	store := assessment.NewStore(db)
	eng, err := engine.New(cfg, store, nil)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	service := assessment.NewService(store, eng)
	assessmentHandler := assessment.NewHandler(service)
	authHandler := auth.NewHandler(db)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware)
	protected.HandleFunc("/auth/me", authHandler.GetCurrentUser).Methods("GET")
	protected.HandleFunc("/assessments", assessmentHandler.StartAssessment).Methods("POST")
	protected.HandleFunc("/assessments/{id}", assessmentHandler.GetProgress).Methods("GET")
	protected.HandleFunc("/assessments/{id}/responses", assessmentHandler.SubmitResponse).Methods("POST")
	protected.HandleFunc("/assessments/{id}/abort", assessmentHandler.AbortAssessment).Methods("POST")
	protected.HandleFunc("/abilities", assessmentHandler.GetAbilities).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	handler := c.Handler(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on :%s (strategy=%s, maxItems=%d, targetSEM=%.2f)",
		port, cfg.Strategy, cfg.MaxItems, cfg.TargetSEM)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
