package dto

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=20"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthPayload — входящее user:join: соединение предъявляет JWT,
// идентичности с клиентских слов не бывает.
type AuthPayload struct {
	Token string `json:"token"`
}
