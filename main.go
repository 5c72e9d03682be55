package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/config"
	"github.com/unit-linkage/app/controllers"
	"github.com/unit-linkage/app/services"
	"github.com/unit-linkage/internal/matcher"
	"github.com/unit-linkage/internal/normalizer"
	"github.com/unit-linkage/internal/prefilter"
	"github.com/unit-linkage/internal/search"
	"github.com/unit-linkage/internal/similarity"
	"github.com/unit-linkage/internal/store"
	"github.com/unit-linkage/routes"
)

func main() {
	// 1. Load configuration
	loadConfig()

	// 2. Khởi tạo logger
	logger := initLogger()
	defer logger.Sync()

	logger.Info("Starting Unit Linkage Service")

	// Engine tuning (thresholds, batch loop, prefilter caps)
	if err := config.Load(viper.GetString("engine.tuning_file")); err != nil {
		logger.Fatal("Failed to load engine tuning file", zap.Error(err))
	}

	// 3. Kết nối MongoDB
	mongoDB := initMongoDB(logger)
	defer func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			logger.Error("Error disconnecting MongoDB", zap.Error(err))
		}
	}()

	// 4. Khởi tạo Meilisearch
	searchConfig := search.SearchConfig{
		Host:      viper.GetString("meilisearch.url"),
		APIKey:    viper.GetString("meilisearch.master_key"),
		IndexName: "linkage_units",
		Timeout:   30 * time.Second,
	}

	unitSearcher, err := search.NewUnitSearcher(searchConfig, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Meilisearch", zap.Error(err))
	}

	// 5. Khởi tạo stores
	unitStore, err := store.NewUnitStore(mongoDB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize unit store", zap.Error(err))
	}
	resultStore, err := store.NewResultStore(mongoDB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize result store", zap.Error(err))
	}
	assocStore, err := store.NewAssociationStore(mongoDB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize association store", zap.Error(err))
	}

	// 6. Khởi tạo matching pipeline
	textNormalizer := normalizer.NewTextNormalizerWithRules(config.C.NormalizerRules())
	kernels := similarity.NewKernels(textNormalizer)
	candidatePrefilter := prefilter.NewPrefilter(unitStore, unitSearcher, config.C.Prefilter.PrefilterConfig(), logger)
	layeredMatcher := matcher.NewLayeredMatcher(candidatePrefilter, kernels, config.C.Matcher, logger)

	// 7. Khởi tạo Redis progress cache. Redis là optional: engine vẫn chạy
	// khi không có, chỉ mất resume sau restart.
	var progressCache *services.TaskProgressCache
	redisURL := viper.GetString("redis.url")
	if redisURL != "" {
		progressCache, err = services.NewTaskProgressCache(redisURL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, task resume disabled", zap.Error(err))
			progressCache = nil
		}
	}
	if progressCache != nil {
		defer progressCache.Close()
	}

	// 8. Khởi tạo services
	taskService := services.NewMatchTaskService(unitStore, resultStore, layeredMatcher, progressCache, config.C.Batch, logger)
	resultService := services.NewResultService(resultStore, logger)
	assocService := services.NewAssociationService(assocStore, logger)

	// 9. Khởi tạo controllers
	matchController := controllers.NewMatchController(taskService, logger)
	resultController := controllers.NewResultController(resultService, logger)
	associationController := controllers.NewAssociationController(assocService, logger)

	// 10. Khởi tạo Gin router
	router := gin.New()

	// 11. Thiết lập routes
	routes.SetupAllRoutes(router, matchController, resultController, associationController)

	// 12. Build Meilisearch indexes nếu cần
	if err := unitSearcher.BuildIndexes(); err != nil {
		logger.Warn("Failed to build Meilisearch indexes", zap.Error(err))
	}

	// 13. Khởi động server
	port := getEnv("APP_PORT", "8080")
	logger.Info("Unit Linkage Service starting", zap.String("port", port))

	if err := router.Run(":" + port); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}

// loadConfig load configuration từ file và env vars
func loadConfig() {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	// Set defaults
	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("meilisearch.url", "http://meili:7700")
	viper.SetDefault("meilisearch.master_key", "")
	viper.SetDefault("mongo.url", "mongodb://localhost:27017/unit_linkage")
	viper.SetDefault("redis.url", "redis://localhost:6379")
	viper.SetDefault("engine.tuning_file", "./config/engine.yaml")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Cannot read config file: %v", err)
	}
}

// initLogger khởi tạo structured logger
func initLogger() *zap.Logger {
	env := getEnv("APP_ENV", "development")

	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	logger, err := config.Build()
	if err != nil {
		log.Fatal("Cannot initialize logger:", err)
	}

	return logger
}

// initMongoDB khởi tạo kết nối MongoDB
func initMongoDB(logger *zap.Logger) *mongo.Database {
	mongoURL := getEnv("MONGO_URL", viper.GetString("mongo.url"))

	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURL))
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx, nil); err != nil {
		logger.Fatal("Failed to ping MongoDB", zap.Error(err))
	}

	clientOpts := options.Client().ApplyURI(mongoURL)

	dbName := "unit_linkage"
	if clientOpts.Auth != nil && clientOpts.Auth.AuthSource != "" {
		dbName = clientOpts.Auth.AuthSource
	}

	db := client.Database(dbName)
	logger.Info("Connected to MongoDB", zap.String("database", dbName))

	return db
}

// getEnv lấy environment variable với default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
