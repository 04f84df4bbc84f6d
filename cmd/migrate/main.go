package main

import (
	"os"

	"github.com/joho/godotenv"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/pkg/logger"
)

// Applies the Postgres report store schema without starting the server.
func main() {
	log := logger.New(os.Getenv("LOG_LEVEL"))

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(dbURL, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(db, log); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}
	log.Info("Migration completed successfully!")
}
