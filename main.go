package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pong-game-system/game"
	"pong-game-system/handlers"
	"pong-game-system/middleware"
	"pong-game-system/models"
	"pong-game-system/services"
	"pong-game-system/sockets"
	"pong-game-system/store"
	"pong-game-system/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-User-Name",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.RoomRecord{},
		&models.Tournament{},
		&models.TournamentPlayer{},
		&models.TournamentMatch{},
		&models.TournamentUser{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	roomStore := store.NewRoomStore(db)
	if err := roomStore.Restore(); err != nil {
		log.Printf("⚠️  Failed to restore rooms from database: %v", err)
	}

	socketManager := sockets.NewManager(roomStore)

	gameService := services.NewGameService(db, roomStore, game.NewEngine(), socketManager)
	socketManager.SetResumer(gameService)

	aiService := services.NewAIService(services.NewAIClientFromEnv(), roomStore, socketManager)
	tournamentService := services.NewTournamentService(db, gameService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gameService.StartGameLoop(ctx)
	if err := gameService.StartSweeps(); err != nil {
		log.Fatal("failed to start room sweeps:", err)
	}

	profileSyncClient := workers.NewProfileSyncClient(db)
	go workers.PollProfiles(ctx, profileSyncClient, 60*time.Second)

	handlers.SetupGameRoutes(app, gameService, aiService, socketManager)
	handlers.SetupTournamentRoutes(app, tournamentService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Game loop running at 60Hz")
	log.Println("✅ Profile polling running (every 60s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	aiService.StopAll()
	gameService.Shutdown()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
