package main

import (
	"context"
	"log"

	"github.com/PedroNhamirre/jusmoz/config"
	"github.com/PedroNhamirre/jusmoz/handlers"
	"github.com/PedroNhamirre/jusmoz/repository"
	"github.com/PedroNhamirre/jusmoz/service"
	"github.com/PedroNhamirre/jusmoz/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

func main() {
	// Load .env file from project root (relative to cmd/server/)
	// Try current directory first, then project root
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}

	cfg := config.Load()

	db, err := initPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize Postgres:", err)
	}
	defer db.Close()

	// Audit archive (local disk by default, S3 in production)
	auditStore, err := storage.NewStorageFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize audit storage: %v", err)
	}
	log.Println("Audit storage initialized")

	geminiClient, err := initGemini(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatal("Failed to initialize Gemini:", err)
	}

	passageRepo := repository.NewPassageRepository(db)

	cache := service.NewResponseCache(
		service.CacheWithTTL(cfg.CacheTTL),
		service.CacheWithCapacity(cfg.CacheCapacity),
	)
	defer cache.Stop()

	retriever := service.NewContextRetriever(
		service.NewGeminiEmbedder(cfg.GeminiAPIKey),
		passageRepo,
		service.RetrieverWithTimeout(cfg.RetrievalTimeout),
		service.RetrieverWithOversampling(cfg.OversamplingFactor),
	)

	invoker := service.NewGeminiInvoker(geminiClient, cfg.ModelName,
		service.InvokerWithTimeout(cfg.GenerationTimeout),
		service.InvokerWithTemperature(cfg.Temperature),
		service.InvokerWithMaxOutputTokens(cfg.MaxOutputTokens),
	)

	chatService := service.NewChatService(
		service.ChatWithSanitizer(service.NewSanitizer(cfg.MaxQuestionLength)),
		service.ChatWithCache(cache),
		service.ChatWithRetriever(retriever),
		service.ChatWithGenerator(invoker),
		service.ChatWithValidator(service.NewCitationValidator(cfg.ArticleRegistry)),
		service.ChatWithAuditSink(service.NewAuditSink(auditStore)),
		service.ChatWithCacheSalt(cfg.CacheSalt),
		service.ChatWithRefusalCaching(cfg.CacheRefusals),
	)

	chatHandler := handlers.NewChatHandler(chatService)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	r.POST("/chat", chatHandler.Chat)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func initPostgres(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, err
	}

	// Enable pgvector extension
	ctx := context.Background()
	_, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		log.Printf("Warning: Failed to create pgvector extension: %v", err)
		log.Println("This may be normal if extension is already installed or requires superuser privileges")
	} else {
		log.Println("pgvector extension enabled")
	}

	log.Println("Postgres connection established with pgvector support")
	return pool, nil
}

func initGemini(apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	log.Println("Gemini client initialized")
	return client, nil
}
