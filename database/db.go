package database

import (
	"context"
	"fmt"
	"time"

	"hospital/config"
	"hospital/utils"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

// MongoClient is the global MongoDB client instance.
var MongoClient *mongo.Client

const connectAttempts = 5

// InitDB connects to MongoDB with the decimal-aware registry. Ledger writes
// require majority acknowledgement.
func InitDB() {
	log := utils.GetLogger().Named("mongo")

	clientOptions := options.Client().
		ApplyURI(config.AppConfig.DatabaseURL).
		SetAppName("hospital-billing").
		SetRegistry(NewRegistry()).
		SetWriteConcern(writeconcern.Majority()).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50)

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client, err := connect(clientOptions)
		if err == nil {
			MongoClient = client
			log.Info("connected to MongoDB", zap.String("database", config.AppConfig.DatabaseName))
			return
		}
		lastErr = err
		log.Warn("MongoDB not reachable yet", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	log.Fatal("failed to connect to MongoDB", zap.Error(lastErr))
}

func connect(opts *options.ClientOptions) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}

// DB returns the application database handle.
func DB() *mongo.Database {
	return MongoClient.Database(config.AppConfig.DatabaseName)
}
