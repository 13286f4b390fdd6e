package handlers

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commune/internal/handlers/dto"
	"commune/internal/models"
	"commune/internal/ws"
	"commune/pkg/auth"
)

type mockStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*models.User
	userRooms map[uuid.UUID][]uuid.UUID
	messages  map[uuid.UUID]*models.Message
	receipts  map[string]models.ReadReceipt
	touched   map[uuid.UUID]time.Time

	saveErr    error
	receiptErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		users:     make(map[uuid.UUID]*models.User),
		userRooms: make(map[uuid.UUID][]uuid.UUID),
		messages:  make(map[uuid.UUID]*models.Message),
		receipts:  make(map[string]models.ReadReceipt),
		touched:   make(map[uuid.UUID]time.Time),
	}
}

func (m *mockStore) GetUser(id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	if user, ok := m.users[userID]; ok {
		return user, nil
	}
	return nil, errors.New("user not found")
}

func (m *mockStore) UpdateLastSeen(id string) error { return nil }

func (m *mockStore) UserRoomIDs(userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userRooms[userID], nil
}

func (m *mockStore) IsRoomMember(userID, roomID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.userRooms[userID] {
		if id == roomID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) SaveMessage(message *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	saved := *message
	m.messages[message.ID] = &saved
	return nil
}

func (m *mockStore) GetMessage(id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	messageID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	if msg, ok := m.messages[messageID]; ok {
		copied := *msg
		return &copied, nil
	}
	return nil, errors.New("message not found")
}

func (m *mockStore) UpdateMessage(message *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *message
	m.messages[message.ID] = &saved
	return nil
}

func (m *mockStore) GetMessagesByIDs(ids []uuid.UUID) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, id := range ids {
		if msg, ok := m.messages[id]; ok {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *mockStore) TouchRoomActivity(roomID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[roomID] = at
	return nil
}

// CreateReadReceipts повторяет поведение базы: дубликат пары молча пропускается
func (m *mockStore) CreateReadReceipts(receipts []models.ReadReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receiptErr != nil {
		return m.receiptErr
	}
	for _, r := range receipts {
		key := r.MessageID.String() + "/" + r.UserID.String()
		if _, ok := m.receipts[key]; ok {
			continue
		}
		m.receipts[key] = r
	}
	return nil
}

func (m *mockStore) receiptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receipts)
}

func (m *mockStore) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type fixture struct {
	store   *mockStore
	hub     *ws.Hub
	jwt     *auth.JWTManager
	handler *EventHandler
}

func newFixture() *fixture {
	store := newMockStore()
	hub := ws.NewHub()
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	return &fixture{
		store:   store,
		hub:     hub,
		jwt:     jwtMgr,
		handler: NewEventHandler(store, hub, jwtMgr),
	}
}

func (f *fixture) connectedClient(userID uuid.UUID, username string, rooms ...uuid.UUID) *ws.Client {
	client := ws.NewClient(f.hub, nil)
	f.hub.Authenticate(client, userID, username)
	for _, roomID := range rooms {
		f.hub.JoinRoom(client, roomID)
	}
	return client
}

func makeEvent(t *testing.T, eventType ws.EventType, roomID *uuid.UUID, userID uuid.UUID, payload interface{}) *ws.Event {
	t.Helper()

	ev := &ws.Event{
		Type:      eventType,
		RoomID:    roomID,
		UserID:    userID,
		Timestamp: time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		ev.Data = data
	}
	return ev
}

func recvEvents(t *testing.T, c *ws.Client) []ws.Event {
	t.Helper()

	var events []ws.Event
	for {
		select {
		case raw := <-c.Send:
			var ev ws.Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventsOfType(events []ws.Event, eventType ws.EventType) []ws.Event {
	var out []ws.Event
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestEventHandler_UserJoin(t *testing.T) {
	f := newFixture()

	userID := uuid.New()
	roomA := uuid.New()
	roomB := uuid.New()
	f.store.userRooms[userID] = []uuid.UUID{roomA, roomB}

	token, err := f.jwt.Generate(userID.String(), "alice")
	require.NoError(t, err)

	client := ws.NewClient(f.hub, nil)

	ev := makeEvent(t, ws.TypeUserJoin, nil, uuid.Nil, dto.AuthPayload{Token: token})
	require.NoError(t, f.handler.HandleEvent(client, ev))

	assert.True(t, client.Authenticated())
	assert.Equal(t, userID, client.UserID)
	assert.Equal(t, "alice", client.Username)
	assert.True(t, client.IsInRoom(roomA), "authenticate subscribes to all member rooms")
	assert.True(t, client.IsInRoom(roomB))
}

func TestEventHandler_UserJoin_BadTokenDroppedSilently(t *testing.T) {
	f := newFixture()

	client := ws.NewClient(f.hub, nil)

	ev := makeEvent(t, ws.TypeUserJoin, nil, uuid.Nil, dto.AuthPayload{Token: "garbage"})
	require.NoError(t, f.handler.HandleEvent(client, ev), "auth failure must not surface to the peer")

	assert.False(t, client.Authenticated())
	assert.Empty(t, recvEvents(t, client), "no error event leaks before authentication")
}

func TestEventHandler_MessageSend(t *testing.T) {
	f := newFixture()

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	sender := f.connectedClient(alice, "alice", roomID)
	receiver := f.connectedClient(bob, "bob", roomID)

	ev := makeEvent(t, ws.TypeMessageSend, &roomID, alice, dto.SendPayload{Content: "hi"})
	require.NoError(t, f.handler.HandleEvent(sender, ev))

	require.Equal(t, 1, f.store.savedCount(), "persist happens before broadcast")
	assert.False(t, f.store.touched[roomID].IsZero(), "room activity is updated")

	senderEvents := eventsOfType(recvEvents(t, sender), ws.TypeMessageNew)
	receiverEvents := eventsOfType(recvEvents(t, receiver), ws.TypeMessageNew)
	require.Len(t, senderEvents, 1, "sender's own connections receive the message too")
	require.Len(t, receiverEvents, 1)

	var senderMsg, receiverMsg dto.MessageResponse
	require.NoError(t, json.Unmarshal(senderEvents[0].Data, &senderMsg))
	require.NoError(t, json.Unmarshal(receiverEvents[0].Data, &receiverMsg))

	assert.Equal(t, senderMsg.ID, receiverMsg.ID, "both observers see the same persisted id")
	assert.Equal(t, alice, receiverMsg.UserID)
	assert.Equal(t, "hi", receiverMsg.Content)
	assert.Equal(t, models.MessageTypeText, receiverMsg.Type)
	assert.Equal(t, "alice", receiverMsg.User.Username)
}

func TestEventHandler_MessageSend_Rejections(t *testing.T) {
	roomID := uuid.New()
	otherRoomID := uuid.New()
	alice := uuid.New()

	tests := []struct {
		name    string
		roomID  *uuid.UUID
		payload interface{}
		setup   func(f *fixture)
		wantErr error
	}{
		{
			name:    "not subscribed to room",
			roomID:  &otherRoomID,
			payload: dto.SendPayload{Content: "hi"},
			wantErr: ws.ErrUserNotInRoom,
		},
		{
			name:    "missing room id",
			roomID:  nil,
			payload: dto.SendPayload{Content: "hi"},
			wantErr: ws.ErrInvalidEvent,
		},
		{
			name:    "empty content",
			roomID:  &roomID,
			payload: dto.SendPayload{Content: ""},
			wantErr: ws.ErrInvalidEvent,
		},
		{
			name:    "persistence failure",
			roomID:  &roomID,
			payload: dto.SendPayload{Content: "hi"},
			setup:   func(f *fixture) { f.store.saveErr = errors.New("db down") },
			wantErr: nil, // произвольная ошибка хранилища
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}

			bob := uuid.New()
			sender := f.connectedClient(alice, "alice", roomID)
			watcher := f.connectedClient(bob, "bob", roomID)

			ev := makeEvent(t, ws.TypeMessageSend, tt.roomID, alice, tt.payload)
			err := f.handler.HandleEvent(sender, ev)

			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			// Ни одна ошибка отправителя не транслируется комнате
			assert.Empty(t, eventsOfType(recvEvents(t, watcher), ws.TypeMessageNew))
		})
	}
}

func TestEventHandler_MessageSend_ReplyTo(t *testing.T) {
	f := newFixture()

	roomID := uuid.New()
	otherRoomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	f.store.users[bob] = &models.User{ID: bob, Username: "bob"}

	sender := f.connectedClient(alice, "alice", roomID, otherRoomID)
	receiver := f.connectedClient(bob, "bob", roomID)

	original := &models.Message{RoomID: roomID, UserID: bob, Content: "original", Type: models.MessageTypeText}
	require.NoError(t, f.store.SaveMessage(original))

	ev := makeEvent(t, ws.TypeMessageSend, &roomID, alice, dto.SendPayload{Content: "reply", ReplyToID: &original.ID})
	require.NoError(t, f.handler.HandleEvent(sender, ev))

	events := eventsOfType(recvEvents(t, receiver), ws.TypeMessageNew)
	require.Len(t, events, 1)

	var msg dto.MessageResponse
	require.NoError(t, json.Unmarshal(events[0].Data, &msg))
	require.NotNil(t, msg.ReplyTo, "broadcast carries the quoted preview")
	assert.Equal(t, original.ID, msg.ReplyTo.ID)
	assert.Equal(t, "original", msg.ReplyTo.Content)
	assert.Equal(t, "bob", msg.ReplyTo.Username)

	// Цитата из другой комнаты отклоняется
	foreign := &models.Message{RoomID: otherRoomID, UserID: alice, Content: "elsewhere"}
	require.NoError(t, f.store.SaveMessage(foreign))

	ev = makeEvent(t, ws.TypeMessageSend, &roomID, alice, dto.SendPayload{Content: "bad reply", ReplyToID: &foreign.ID})
	assert.ErrorIs(t, f.handler.HandleEvent(sender, ev), ws.ErrInvalidEvent)
}

func TestEventHandler_MessageRead(t *testing.T) {
	f := newFixture()

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	aliceConn := f.connectedClient(alice, "alice", roomID)
	bobConn := f.connectedClient(bob, "bob", roomID)
	bobPhone := f.connectedClient(bob, "bob", roomID)

	msg := &models.Message{RoomID: roomID, UserID: alice, Content: "hi"}
	require.NoError(t, f.store.SaveMessage(msg))

	ev := makeEvent(t, ws.TypeMessageRead, nil, bob, dto.ReadPayload{MessageIDs: []uuid.UUID{msg.ID}})
	require.NoError(t, f.handler.HandleEvent(bobConn, ev))

	assert.Equal(t, 1, f.store.receiptCount())

	// Отправитель получает дельту, оба соединения читателя — нет
	deltas := eventsOfType(recvEvents(t, aliceConn), ws.TypeMessageRead)
	require.Len(t, deltas, 1)
	assert.Equal(t, bob, deltas[0].UserID)

	var delta dto.ReadDelta
	require.NoError(t, json.Unmarshal(deltas[0].Data, &delta))
	assert.Equal(t, []uuid.UUID{msg.ID}, delta.MessageIDs)

	assert.Empty(t, eventsOfType(recvEvents(t, bobConn), ws.TypeMessageRead))
	assert.Empty(t, eventsOfType(recvEvents(t, bobPhone), ws.TypeMessageRead))

	// Повторная отметка идемпотентна по хранилищу
	ev = makeEvent(t, ws.TypeMessageRead, nil, bob, dto.ReadPayload{MessageIDs: []uuid.UUID{msg.ID}})
	require.NoError(t, f.handler.HandleEvent(bobConn, ev))
	assert.Equal(t, 1, f.store.receiptCount())
}

func TestEventHandler_MessageRead_SkipsForeignRooms(t *testing.T) {
	f := newFixture()

	roomID := uuid.New()
	foreignRoomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	bobConn := f.connectedClient(bob, "bob", roomID)

	mine := &models.Message{RoomID: roomID, UserID: alice, Content: "mine"}
	foreign := &models.Message{RoomID: foreignRoomID, UserID: alice, Content: "foreign"}
	require.NoError(t, f.store.SaveMessage(mine))
	require.NoError(t, f.store.SaveMessage(foreign))

	ev := makeEvent(t, ws.TypeMessageRead, nil, bob, dto.ReadPayload{MessageIDs: []uuid.UUID{mine.ID, foreign.ID}})
	require.NoError(t, f.handler.HandleEvent(bobConn, ev))

	assert.Equal(t, 1, f.store.receiptCount(), "receipts only for rooms the reader is subscribed to")
}

func TestEventHandler_ChatJoin(t *testing.T) {
	f := newFixture()

	roomID := uuid.New()
	alice := uuid.New()

	client := f.connectedClient(alice, "alice")

	// Не участник — отказ
	ev := makeEvent(t, ws.TypeChatJoin, &roomID, alice, nil)
	assert.ErrorIs(t, f.handler.HandleEvent(client, ev), ws.ErrUserNotInRoom)
	assert.False(t, client.IsInRoom(roomID))

	// Участник по базе — подписка
	f.store.userRooms[alice] = []uuid.UUID{roomID}
	require.NoError(t, f.handler.HandleEvent(client, ev))
	assert.True(t, client.IsInRoom(roomID))

	// Явный выход
	ev = makeEvent(t, ws.TypeChatLeave, &roomID, alice, nil)
	require.NoError(t, f.handler.HandleEvent(client, ev))
	assert.False(t, client.IsInRoom(roomID))
}

func TestEventHandler_EditAndDelete(t *testing.T) {
	f := newFixture()

	roomID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	author := f.connectedClient(alice, "alice", roomID)
	other := f.connectedClient(bob, "bob", roomID)

	msg := &models.Message{RoomID: roomID, UserID: alice, Content: "draft"}
	require.NoError(t, f.store.SaveMessage(msg))

	// Чужое сообщение трогать нельзя
	ev := makeEvent(t, ws.TypeMessageEdit, &roomID, bob, dto.EditPayload{MessageID: msg.ID, Content: "hack"})
	assert.ErrorIs(t, f.handler.HandleEvent(other, ev), ws.ErrUnauthorized)

	// Автор редактирует
	ev = makeEvent(t, ws.TypeMessageEdit, &roomID, alice, dto.EditPayload{MessageID: msg.ID, Content: "final"})
	require.NoError(t, f.handler.HandleEvent(author, ev))

	stored, err := f.store.GetMessage(msg.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "final", stored.Content)
	assert.True(t, stored.Edited)

	updates := eventsOfType(recvEvents(t, other), ws.TypeMessageUpdated)
	require.Len(t, updates, 1)

	// Удаление — tombstone, не физическое удаление
	ev = makeEvent(t, ws.TypeMessageDelete, &roomID, alice, dto.DeletePayload{MessageID: msg.ID})
	require.NoError(t, f.handler.HandleEvent(author, ev))

	stored, err = f.store.GetMessage(msg.ID.String())
	require.NoError(t, err, "the row survives deletion")
	assert.True(t, stored.Deleted)
}

func TestEventHandler_TypingRequiresSubscription(t *testing.T) {
	f := newFixture()

	roomID := uuid.New()
	alice := uuid.New()

	client := f.connectedClient(alice, "alice")

	ev := makeEvent(t, ws.TypeTypingStart, &roomID, alice, nil)
	assert.ErrorIs(t, f.handler.HandleEvent(client, ev), ws.ErrUserNotInRoom)
}
