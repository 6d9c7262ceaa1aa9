package main

import (
	"log"
	"os"

	"chatrelay/internal/api"
	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/service/completion"
	"chatrelay/internal/service/transcript"
	"chatrelay/internal/storage"
	"chatrelay/internal/tokens"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CHATRELAY_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("CHATRELAY_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	counter, err := tokens.NewTiktokenCounter(cfg.OpenAI.Model)
	if err != nil {
		log.Fatalf("init token counter: %v", err)
	}
	source, err := completion.NewOpenAISource(cfg.OpenAI)
	if err != nil {
		log.Fatalf("init completion source: %v", err)
	}

	store := transcript.NewSQLStore(db)
	registry := chat.NewRegistry()
	orchestrator := chat.NewOrchestrator(store, source, counter, registry, chat.DefaultLimits())
	handlers := api.NewHandler(orchestrator, store)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8000"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
