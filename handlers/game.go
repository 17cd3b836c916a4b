package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"pong-game-system/middleware"
	"pong-game-system/services"
	"pong-game-system/sockets"
)

func SetupGameRoutes(app *fiber.App, gameService *services.GameService, aiService *services.AIService, socketManager *sockets.Manager) {
	// 🔓 Public routes — *no user context*, but **still require Gateway auth**
	app.Get("/rooms", gameService.ListRooms)
	app.Get("/game/:room_id/state", gameService.GetState)

	// Websocket endpoint. Identity headers are optional here: local play
	// connects as a guest, the Gateway adds X-User-ID for logged-in users.
	app.Use("/game/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("user_id", c.Get("X-User-ID"))
			c.Locals("user_name", c.Get("X-User-Name"))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/game/ws", websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(string)
		userName, _ := conn.Locals("user_name").(string)
		socketManager.HandleConnection(conn, userID, userName)
	}))

	// 🔐 Secured routes — require user context, enforced via middleware
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/game/init", gameService.InitRoom)
	secured.Post("/game/:room_id/pause", gameService.Pause)
	secured.Post("/game/:room_id/resume", gameService.Resume)
	secured.Post("/game/:room_id/toggle-pause", gameService.TogglePause)
	secured.Post("/game/:room_id/reset-score", gameService.ResetScore)
	secured.Post("/game/:room_id/powerups", gameService.SetPowerUps)
	secured.Post("/game/:room_id/config", gameService.Configure)

	// AI takeover
	secured.Post("/game/:room_id/ai/enable", aiService.EnableAI)
	secured.Post("/game/:room_id/ai/disable", aiService.DisableAI)
}
