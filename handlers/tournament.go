package handlers

import (
	"github.com/gofiber/fiber/v2"

	"pong-game-system/middleware"
	"pong-game-system/services"
)

func SetupTournamentRoutes(app *fiber.App, tournamentService *services.TournamentService) {
	// 🔓 Public routes for browsing
	app.Get("/tournaments", tournamentService.ListTournaments)
	app.Get("/tournaments/:id", tournamentService.GetTournament)
	app.Get("/tournaments/:id/players", tournamentService.GetPlayers)
	app.Get("/tournaments/:id/matches", tournamentService.GetMatches)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/tournaments", tournamentService.CreateTournament)
	secured.Post("/tournaments/:id/start", tournamentService.StartTournament)
	secured.Post("/tournaments/:id/advance", tournamentService.Advance)
	secured.Post("/tournaments/:id/matches/:match_id/result", tournamentService.ReportMatchResult)

	// Remote tournaments: individual joins under /s/ so the gateway user
	// context is mandatory
	remote := app.Group("/s", middleware.UserContextMiddleware())
	remote.Post("/tournaments/:id/join", tournamentService.JoinTournament)
	remote.Post("/tournaments/:id/leave", tournamentService.LeaveTournament)
}
