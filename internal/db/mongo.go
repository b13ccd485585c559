package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"publish-calendar-backend/config"
)

// ErrFailedToConnectToMongo is returned when every connection attempt failed.
var ErrFailedToConnectToMongo = errors.New("failed to connect to mongo")

// InitMongo connects to MongoDB, retrying as configured, and returns the
// configured database.
func InitMongo(ctx context.Context, cfg *config.MongoConfig) (*mongo.Database, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("database.mongo.uri is required for the mongo driver")
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryAttempts; attempt++ {
		client, err := mongo.Connect(
			options.Client().
				ApplyURI(cfg.URI).
				SetConnectTimeout(time.Duration(cfg.ConnectTimeoutSeconds) * time.Second).
				SetMaxPoolSize(cfg.MaxPoolSize).
				SetRetryWrites(true).
				SetRetryReads(true),
		)
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				slog.Info("mongo connection established", "database", cfg.Database)
				return client.Database(cfg.Database), nil
			}
			_ = client.Disconnect(ctx)
		}
		lastErr = err
		slog.Warn("mongo connection attempt failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(cfg.RetryIntervalSeconds) * time.Second):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrFailedToConnectToMongo, lastErr)
}
