package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type typingKey struct {
	RoomID uuid.UUID
	UserID uuid.UUID
}

type typingEntry struct {
	timer    *time.Timer
	username string
}

// TypingTable — конечный автомат набора на пару (комната, пользователь):
// idle (записи нет) -> typing (запись с таймером) -> idle. На каждый ключ
// живёт ровно один таймер; refresh и stop обязаны его отменить, иначе
// устаревший stop прилетит после свежего start.
type TypingTable struct {
	mu       sync.Mutex
	entries  map[typingKey]*typingEntry
	expiry   time.Duration
	onExpire func(roomID, userID uuid.UUID, username string)
}

func NewTypingTable(expiry time.Duration, onExpire func(roomID, userID uuid.UUID, username string)) *TypingTable {
	return &TypingTable{
		entries:  make(map[typingKey]*typingEntry),
		expiry:   expiry,
		onExpire: onExpire,
	}
}

// Start переводит ключ в typing. Возвращает true только на переходе из idle —
// повторный start продлевает таймер без повторной рассылки.
func (t *TypingTable) Start(roomID, userID uuid.UUID, username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{RoomID: roomID, UserID: userID}

	if entry, ok := t.entries[key]; ok {
		entry.timer.Stop()
		entry.timer = t.scheduleExpiry(key, username)
		return false
	}

	t.entries[key] = &typingEntry{
		timer:    t.scheduleExpiry(key, username),
		username: username,
	}
	return true
}

// Stop переводит ключ в idle. Возвращает true, если запись существовала.
func (t *TypingTable) Stop(roomID, userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{RoomID: roomID, UserID: userID}

	entry, ok := t.entries[key]
	if !ok {
		return false
	}

	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

// IsTyping сообщает, печатает ли пользователь в комнате сейчас.
func (t *TypingTable) IsTyping(roomID, userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[typingKey{RoomID: roomID, UserID: userID}]
	return ok
}

// StopAll гасит все таймеры при останове hub.
func (t *TypingTable) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, key)
	}
}

func (t *TypingTable) scheduleExpiry(key typingKey, username string) *time.Timer {
	var timer *time.Timer
	timer = time.AfterFunc(t.expiry, func() {
		t.mu.Lock()
		entry, ok := t.entries[key]
		// Таймер мог проиграть гонку refresh/stop: срабатывание считается
		// только если в таблице всё ещё наш таймер.
		if !ok || entry.timer != timer {
			t.mu.Unlock()
			return
		}
		delete(t.entries, key)
		t.mu.Unlock()

		if t.onExpire != nil {
			t.onExpire(key.RoomID, key.UserID, username)
		}
	})
	return timer
}
