package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTypingExpiry — потолок сервера для индикатора набора: клиент,
// отвалившийся без typing:stop, будет "печатать" не дольше этого окна.
const DefaultTypingExpiry = 3 * time.Second

type PresenceInfo struct {
	Username string `json:"username"`
}

// Hub владеет всеми эфемерными таблицами: соединения, соединения по
// пользователям (онлайн-множество — ключи userClients), подписки комнат и
// состояние набора. Каждая таблица за одним общим мьютексом.
type Hub struct {
	clients map[uuid.UUID]*Client

	// Клиенты по UserID (один пользователь может иметь несколько соединений)
	userClients map[uuid.UUID]map[uuid.UUID]*Client

	// Клиенты в комнатах
	rooms map[uuid.UUID]map[uuid.UUID]*Client

	typing *TypingTable

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Контекст для graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub() *Hub {
	return NewHubWithTypingExpiry(DefaultTypingExpiry)
}

func NewHubWithTypingExpiry(typingExpiry time.Duration) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[uuid.UUID]map[uuid.UUID]*Client),
		rooms:       make(map[uuid.UUID]map[uuid.UUID]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		ctx:         ctx,
		cancel:      cancel,
	}
	h.typing = NewTypingTable(typingExpiry, h.typingExpired)
	return h
}

// Run запускает hub
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ticker.C:
			h.ping()
		}
	}
}

// Stop останавливает hub
func (h *Hub) Stop() {
	h.cancel()
	h.typing.StopAll()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.Send)
		if client.Conn != nil {
			client.Conn.Close()
		}
	}
}

// Register регистрирует соединение без идентичности.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister отменяет регистрацию клиента
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	log.Printf("Connection registered: %s", client.ID)
}

// Authenticate привязывает соединение к пользователю. Если это первое живое
// соединение пользователя — рассылает user:online всем остальным.
func (h *Hub) Authenticate(client *Client, userID uuid.UUID, username string) {
	client.setIdentity(userID, username)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.userClients[userID]; !ok {
		h.userClients[userID] = make(map[uuid.UUID]*Client)
	}
	first := len(h.userClients[userID]) == 0
	h.userClients[userID][client.ID] = client

	log.Printf("Connection authenticated: %s (User: %s)", client.ID, userID)

	if first {
		h.notifyUserStatus(userID, username, TypeUserOnline)
	}
}

// unregisterClient убирает соединение из всех таблиц до возврата из
// обработчика: после него ни одна рассылка не увидит мёртвого клиента.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	// Итерация по срезу-копии: removeFromRoomUnsafe мутирует client.Rooms.
	for _, roomID := range client.GetRooms() {
		h.removeFromRoomUnsafe(client, roomID)
	}

	if userClients, ok := h.userClients[client.UserID]; ok {
		delete(userClients, client.ID)
		if len(userClients) == 0 {
			delete(h.userClients, client.UserID)
			// Последнее соединение пользователя закрылось
			h.notifyUserStatus(client.UserID, client.Username, TypeUserOffline)
		}
	}

	delete(h.clients, client.ID)
	close(client.Send)

	log.Printf("Connection unregistered: %s (User: %s)", client.ID, client.UserID)
}

// JoinRoom подписывает клиента на комнату
func (h *Hub) JoinRoom(client *Client, roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[uuid.UUID]*Client)
	}

	h.rooms[roomID][client.ID] = client
	client.mu.Lock()
	client.Rooms[roomID] = true
	client.mu.Unlock()
}

// JoinRooms подписывает клиента на все его комнаты при аутентификации.
func (h *Hub) JoinRooms(client *Client, roomIDs []uuid.UUID) {
	for _, roomID := range roomIDs {
		h.JoinRoom(client, roomID)
	}
}

// LeaveRoom отписывает клиента от комнаты
func (h *Hub) LeaveRoom(client *Client, roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoomUnsafe(client, roomID)
}

func (h *Hub) removeFromRoomUnsafe(client *Client, roomID uuid.UUID) {
	if room, ok := h.rooms[roomID]; ok {
		if _, ok := room[client.ID]; ok {
			delete(room, client.ID)
			client.mu.Lock()
			delete(client.Rooms, roomID)
			client.mu.Unlock()

			if len(room) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
}

// SendToUser отправляет событие на все соединения пользователя
func (h *Hub) SendToUser(userID uuid.UUID, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.userClients[userID]; ok {
		for _, client := range clients {
			select {
			case client.Send <- message:
			default:
				log.Printf("Client %s send channel full", client.ID)
			}
		}
	}
}

// SendToRoom отправляет событие всем подписанным на комнату
func (h *Hub) SendToRoom(roomID uuid.UUID, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.sendToRoomUnsafe(roomID, message, uuid.Nil)
}

// SendToRoomExceptUser — то же, но минуя все соединения excludeUser.
// Нужен для read-квитанций и индикаторов набора: автору своё же событие
// не возвращаем.
func (h *Hub) SendToRoomExceptUser(roomID uuid.UUID, message []byte, excludeUser uuid.UUID) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.sendToRoomUnsafe(roomID, message, excludeUser)
}

// sendToRoomUnsafe пишет неблокирующе: переполненная очередь одного клиента
// никогда не срывает доставку остальным.
func (h *Hub) sendToRoomUnsafe(roomID uuid.UUID, message []byte, excludeUser uuid.UUID) {
	if room, ok := h.rooms[roomID]; ok {
		for _, client := range room {
			if excludeUser != uuid.Nil && client.UserID == excludeUser {
				continue
			}
			select {
			case client.Send <- message:
			default:
				log.Printf("Client %s send channel full", client.ID)
			}
		}
	}
}

// notifyUserStatus рассылает user:online/user:offline. Вызывается под h.mu.
func (h *Hub) notifyUserStatus(userID uuid.UUID, username string, status EventType) {
	data, err := MarshalEvent(status, nil, userID, PresenceInfo{Username: username})
	if err != nil {
		return
	}

	for _, client := range h.clients {
		if client.UserID == userID {
			continue
		}
		select {
		case client.Send <- data:
		default:
		}
	}
}

// TypingStart обрабатывает typing:start. Рассылает только первый переход
// idle -> typing; повторный start лишь продлевает таймер, чтобы быстрый
// набор не устраивал шторм событий.
func (h *Hub) TypingStart(roomID, userID uuid.UUID, username string) {
	fresh := h.typing.Start(roomID, userID, username)
	if !fresh {
		return
	}

	data, err := MarshalEvent(TypeTypingStart, &roomID, userID, PresenceInfo{Username: username})
	if err != nil {
		return
	}
	h.SendToRoomExceptUser(roomID, data, userID)
}

// TypingStop обрабатывает явный typing:stop.
func (h *Hub) TypingStop(roomID, userID uuid.UUID) {
	if !h.typing.Stop(roomID, userID) {
		return
	}
	h.broadcastTypingStop(roomID, userID)
}

// typingExpired — таймер истёк без refresh и без явного stop.
func (h *Hub) typingExpired(roomID, userID uuid.UUID, username string) {
	h.broadcastTypingStop(roomID, userID)
}

func (h *Hub) broadcastTypingStop(roomID, userID uuid.UUID) {
	data, err := MarshalEvent(TypeTypingStop, &roomID, userID, nil)
	if err != nil {
		return
	}
	h.SendToRoomExceptUser(roomID, data, userID)
}

func (h *Hub) ping() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := MarshalEvent(TypePing, nil, uuid.Nil, nil)
	if err != nil {
		return
	}

	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// GetOnlineUsers возвращает список онлайн пользователей
func (h *Hub) GetOnlineUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]uuid.UUID, 0, len(h.userClients))
	for userID := range h.userClients {
		users = append(users, userID)
	}
	return users
}

// IsUserOnline — онлайн, пока живо хотя бы одно соединение пользователя.
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.userClients[userID]) > 0
}

// GetRoomUsers возвращает список пользователей, подписанных на комнату
func (h *Hub) GetRoomUsers(roomID uuid.UUID) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userMap := make(map[uuid.UUID]bool)
	if room, ok := h.rooms[roomID]; ok {
		for _, client := range room {
			userMap[client.UserID] = true
		}
	}

	users := make([]uuid.UUID, 0, len(userMap))
	for userID := range userMap {
		users = append(users, userID)
	}
	return users
}
