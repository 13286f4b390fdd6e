package chatclient

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// State — клиентский кэш чата: склеивает события из сокета с постраничной
// историей, держит курсоры пагинации и оптимистичные отправки. Все методы
// потокобезопасны.
type State struct {
	mu        sync.Mutex
	transport Transport
	api       API
	selfID    uuid.UUID
	pageSize  int

	rooms        []*Room
	roomIndex    map[uuid.UUID]*Room
	roomsPage    int
	roomsHasMore bool

	// Сообщения комнаты, свежие первыми; рендер — старые внизу
	messages map[uuid.UUID][]*Message
	hasMore  map[uuid.UUID]bool

	typing map[uuid.UUID]map[uuid.UUID]struct{}
	readBy map[uuid.UUID]map[uuid.UUID]struct{}
	online map[uuid.UUID]bool
}

func NewState(transport Transport, api API, selfID uuid.UUID, pageSize int) *State {
	return &State{
		transport:    transport,
		api:          api,
		selfID:       selfID,
		pageSize:     pageSize,
		roomIndex:    make(map[uuid.UUID]*Room),
		roomsHasMore: true,
		messages:     make(map[uuid.UUID][]*Message),
		hasMore:      make(map[uuid.UUID]bool),
		typing:       make(map[uuid.UUID]map[uuid.UUID]struct{}),
		readBy:       make(map[uuid.UUID]map[uuid.UUID]struct{}),
		online:       make(map[uuid.UUID]bool),
	}
}

// LoadMoreRooms дозагружает следующую страницу списка комнат.
func (s *State) LoadMoreRooms() error {
	s.mu.Lock()
	if !s.roomsHasMore {
		s.mu.Unlock()
		return nil
	}
	page := s.roomsPage
	s.mu.Unlock()

	rooms, hasMore, err := s.api.ListRooms(page, s.pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range rooms {
		room := rooms[i]
		if _, ok := s.roomIndex[room.ID]; ok {
			continue
		}
		copied := room
		s.rooms = append(s.rooms, &copied)
		s.roomIndex[room.ID] = &copied
	}
	s.roomsPage = page + 1
	s.roomsHasMore = hasMore

	return nil
}

// OpenRoom загружает первую страницу истории и шлёт advisory chat:join.
func (s *State) OpenRoom(roomID uuid.UUID) error {
	msgs, hasMore, err := s.api.ListMessages(roomID, nil, s.pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	list := make([]*Message, 0, len(msgs))
	for i := range msgs {
		m := msgs[i]
		m.Status = StatusSent
		list = append(list, &m)
	}
	s.messages[roomID] = list
	s.hasMore[roomID] = hasMore
	s.mu.Unlock()

	s.transport.SendEvent(EventChatJoin, &roomID, nil)
	return nil
}

// LoadOlderMessages подгружает историю вглубь от последнего курсора.
func (s *State) LoadOlderMessages(roomID uuid.UUID) error {
	s.mu.Lock()
	list := s.messages[roomID]
	if !s.hasMore[roomID] {
		s.mu.Unlock()
		return nil
	}
	var beforeID *uuid.UUID
	for i := len(list) - 1; i >= 0; i-- {
		// Курсор — самое старое подтверждённое сообщение
		if list[i].Status == StatusSent {
			id := list[i].ID
			beforeID = &id
			break
		}
	}
	s.mu.Unlock()

	msgs, hasMore, err := s.api.ListMessages(roomID, beforeID, s.pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range msgs {
		m := msgs[i]
		m.Status = StatusSent
		s.messages[roomID] = append(s.messages[roomID], &m)
	}
	s.hasMore[roomID] = hasMore

	return nil
}

// Send — оптимистичная отправка: локальная вставка сразу, живое событие в
// сокет и устойчивая запись параллельно. Провал любой из них помечает
// сообщение failed, путь повтора тот же, что и у ручного resend.
func (s *State) Send(roomID uuid.UUID, content, msgType string, replyToID *uuid.UUID) *Message {
	local := &Message{
		RoomID:    roomID,
		UserID:    s.selfID,
		Content:   content,
		Type:      msgType,
		ReplyToID: replyToID,
		LocalID:   uuid.New(),
		Status:    StatusPending,
	}

	s.mu.Lock()
	s.messages[roomID] = append([]*Message{local}, s.messages[roomID]...)
	s.bumpRoom(roomID, local)
	s.mu.Unlock()

	s.dispatch(local)
	return local
}

// Retry повторяет отправку помеченного failed сообщения.
func (s *State) Retry(roomID, localID uuid.UUID) bool {
	s.mu.Lock()
	var msg *Message
	for _, m := range s.messages[roomID] {
		if m.LocalID == localID && m.Status == StatusFailed {
			msg = m
			break
		}
	}
	if msg == nil {
		s.mu.Unlock()
		return false
	}
	msg.Status = StatusPending
	s.mu.Unlock()

	s.dispatch(msg)
	return true
}

func (s *State) dispatch(msg *Message) {
	payload := map[string]interface{}{
		"content": msg.Content,
		"type":    msg.Type,
	}
	if msg.ReplyToID != nil {
		payload["reply_to_id"] = msg.ReplyToID
	}

	roomID := msg.RoomID
	if err := s.transport.SendEvent(EventMessageSend, &roomID, payload); err != nil {
		s.markFailed(msg)
	}

	go func() {
		saved, err := s.api.PostMessage(msg.RoomID, msg.Content, msg.Type, msg.ReplyToID)
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			if msg.Status == StatusPending {
				msg.Status = StatusFailed
			}
			return
		}
		if msg.Status == StatusPending {
			msg.ID = saved.ID
			msg.CreatedAt = saved.CreatedAt
			msg.Status = StatusSent
		}
	}()
}

func (s *State) markFailed(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Status == StatusPending {
		msg.Status = StatusFailed
	}
}

// MarkRead шлёт пачку квитанций одним событием.
func (s *State) MarkRead(messageIDs []uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return s.transport.SendEvent(EventMessageRead, nil, map[string]interface{}{
		"message_ids": messageIDs,
	})
}

// HandleEvent вливает входящее событие сокета в локальное состояние.
func (s *State) HandleEvent(raw []byte) error {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}

	switch ev.Type {
	case EventMessageNew:
		return s.applyMessageNew(&ev)

	case EventMessageUpdated:
		return s.applyMessageUpdated(&ev)

	case EventMessageRead:
		return s.applyReadDelta(&ev)

	case EventTypingStart:
		s.setTyping(ev.RoomID, ev.UserID, true)

	case EventTypingStop:
		s.setTyping(ev.RoomID, ev.UserID, false)

	case EventUserOnline:
		s.setOnline(ev.UserID, true)

	case EventUserOffline:
		s.setOnline(ev.UserID, false)
	}

	return nil
}

// applyMessageNew: комната загружена — prepend и подъём комнаты наверх;
// незагруженная комната игнорируется, её покажет следующий refresh списка.
func (s *State) applyMessageNew(ev *Event) error {
	var msg Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		return err
	}
	msg.Status = StatusSent

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roomIndex[msg.RoomID]; !ok {
		return nil
	}

	// Своё же сообщение: схлопываем с оптимистичной копией вместо дубля
	if msg.UserID == s.selfID {
		for _, m := range s.messages[msg.RoomID] {
			if m.Status != StatusSent && m.Content == msg.Content {
				m.ID = msg.ID
				m.CreatedAt = msg.CreatedAt
				m.Status = StatusSent
				s.bumpRoom(msg.RoomID, m)
				return nil
			}
		}
	}

	if list, ok := s.messages[msg.RoomID]; ok {
		s.messages[msg.RoomID] = append([]*Message{&msg}, list...)
	}
	s.bumpRoom(msg.RoomID, &msg)

	return nil
}

func (s *State) applyMessageUpdated(ev *Event) error {
	var upd messageUpdate
	if err := json.Unmarshal(ev.Data, &upd); err != nil {
		return err
	}

	if ev.RoomID == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[*ev.RoomID] {
		if m.ID == upd.MessageID {
			if upd.Deleted {
				m.Deleted = true
				m.Content = ""
			} else {
				m.Content = upd.Content
				m.Edited = true
			}
			break
		}
	}

	return nil
}

// applyReadDelta отмечает прочтения — только для галочек, бейджи
// считает сервер.
func (s *State) applyReadDelta(ev *Event) error {
	var delta readDelta
	if err := json.Unmarshal(ev.Data, &delta); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range delta.MessageIDs {
		if _, ok := s.readBy[id]; !ok {
			s.readBy[id] = make(map[uuid.UUID]struct{})
		}
		s.readBy[id][ev.UserID] = struct{}{}
	}

	return nil
}

func (s *State) setTyping(roomID *uuid.UUID, userID uuid.UUID, typing bool) {
	if roomID == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if typing {
		if _, ok := s.typing[*roomID]; !ok {
			s.typing[*roomID] = make(map[uuid.UUID]struct{})
		}
		s.typing[*roomID][userID] = struct{}{}
		return
	}

	delete(s.typing[*roomID], userID)
}

func (s *State) setOnline(userID uuid.UUID, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if online {
		s.online[userID] = true
		return
	}
	delete(s.online, userID)
}

// bumpRoom поднимает комнату наверх и обновляет превью. Вызывается под s.mu.
func (s *State) bumpRoom(roomID uuid.UUID, msg *Message) {
	room, ok := s.roomIndex[roomID]
	if !ok {
		return
	}

	room.LastMessage = msg

	for i, r := range s.rooms {
		if r.ID == roomID {
			copy(s.rooms[1:i+1], s.rooms[:i])
			s.rooms[0] = room
			break
		}
	}
}

// Rooms возвращает срез-копию текущего порядка комнат.
func (s *State) Rooms() []Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, *r)
	}
	return out
}

// Messages возвращает сообщения комнаты, свежие первыми.
func (s *State) Messages(roomID uuid.UUID) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[roomID]
	out := make([]Message, 0, len(list))
	for _, m := range list {
		out = append(out, *m)
	}
	return out
}

// TypingUsers возвращает, кто сейчас печатает в комнате.
func (s *State) TypingUsers(roomID uuid.UUID) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]uuid.UUID, 0, len(s.typing[roomID]))
	for userID := range s.typing[roomID] {
		out = append(out, userID)
	}
	return out
}

// ReadBy сообщает, читал ли пользователь сообщение.
func (s *State) ReadBy(messageID, userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.readBy[messageID][userID]
	return ok
}

// IsOnline — известен ли пользователь как онлайн.
func (s *State) IsOnline(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

// MarkSendFailed помечает оптимистичное сообщение по ошибке от сервера
// (событие error в ответ на send) — без удаления, с возможностью Retry.
func (s *State) MarkSendFailed(roomID, localID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[roomID] {
		if m.LocalID == localID && m.Status == StatusPending {
			m.Status = StatusFailed
			return
		}
	}
}
