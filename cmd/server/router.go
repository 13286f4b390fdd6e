package server

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"commune/internal/handlers"
	"commune/internal/middleware"
	"commune/pkg/auth"
)

func APIEndpoints(
	r *gin.Engine,
	authH *handlers.AuthHandler,
	userH *handlers.UserHandler,
	roomH *handlers.RoomHandler,
	msgH *handlers.HTTPMessageHandler,
	wsH *handlers.WebSocketHandler,
	jwtMgr *auth.JWTManager,
	rdb *redis.Client,
) {
	// Auth endpoints
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", authH.Register)
		authGroup.POST("/login", authH.Login)
		authGroup.POST("/logout", authH.Logout)
	}

	// WebSocket: аутентификация в канале, первым событием user:join
	r.GET("/ws", wsH.HandleWebSocket)

	// API endpoints
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtMgr, rdb))
	{
		api.GET("/me", userH.GetMe)
		api.PATCH("/me", userH.UpdateMe)
		api.GET("/users", userH.SearchUsers)
		api.GET("/users/:id", userH.GetUser)

		api.POST("/rooms", roomH.CreateRoom)
		api.POST("/direct", roomH.CreateDirectRoom)
		api.GET("/rooms", roomH.GetMyRooms)
		api.GET("/rooms/:id", roomH.GetRoom)
		api.GET("/rooms/:id/members", roomH.GetRoomMembers)
		api.GET("/rooms/:id/messages", msgH.GetRoomMessages)

		api.POST("/messages", msgH.SendMessage)
		api.POST("/messages/read", msgH.MarkRead)
	}
}
