// cmd/seeder/main.go
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outbound-dispatcher/internal/db"
	"github.com/unclebandit/outbound-dispatcher/internal/logger"
)

func main() {
	log, err := logger.New(os.Getenv("ENV"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal("failed to connect to DB", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal("failed to apply schema", zap.Error(err))
	}
	if err := db.Seed(ctx, conn); err != nil {
		log.Fatal("failed to seed", zap.Error(err))
	}

	log.Info("database seeding completed",
		zap.String("workspace_id", db.DemoWorkspaceID),
		zap.String("conversation_id", db.DemoConversationID),
	)
}
