package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(h *Hub) *Client {
	c := NewClient(h, nil)
	h.registerClient(c)
	return c
}

func authClient(h *Hub, userID uuid.UUID, username string) *Client {
	c := newTestClient(h)
	h.Authenticate(c, userID, username)
	return c
}

// drainEvents вычитывает всё, что лежит в очереди клиента.
func drainEvents(t *testing.T, c *Client) []Event {
	t.Helper()

	var events []Event
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return events
			}
			var ev Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventsOfType(events []Event, eventType EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestHub_RoomBroadcast(t *testing.T) {
	tests := []struct {
		name        string
		excludeUser bool
		wantSender  int
		wantOther   int
		wantOutside int
	}{
		{
			name:        "send to room includes sender connections",
			excludeUser: false,
			wantSender:  1,
			wantOther:   1,
			wantOutside: 0,
		},
		{
			name:        "send to room except user skips all sender connections",
			excludeUser: true,
			wantSender:  0,
			wantOther:   1,
			wantOutside: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub()
			roomID := uuid.New()
			otherRoomID := uuid.New()

			alice := uuid.New()
			bob := uuid.New()
			carol := uuid.New()

			sender := authClient(h, alice, "alice")
			other := authClient(h, bob, "bob")
			outside := authClient(h, carol, "carol")

			h.JoinRoom(sender, roomID)
			h.JoinRoom(other, roomID)
			h.JoinRoom(outside, otherRoomID)

			drainEvents(t, sender)
			drainEvents(t, other)
			drainEvents(t, outside)

			data, err := MarshalEvent(TypeMessageNew, &roomID, alice, nil)
			require.NoError(t, err)

			if tt.excludeUser {
				h.SendToRoomExceptUser(roomID, data, alice)
			} else {
				h.SendToRoom(roomID, data)
			}

			assert.Len(t, drainEvents(t, sender), tt.wantSender)
			assert.Len(t, drainEvents(t, other), tt.wantOther)
			assert.Len(t, drainEvents(t, outside), tt.wantOutside, "no cross-room delivery")
		})
	}
}

func TestHub_OnlineBroadcastOnFirstConnectionOnly(t *testing.T) {
	h := NewHub()

	alice := uuid.New()
	bob := uuid.New()

	observer := authClient(h, bob, "bob")
	drainEvents(t, observer)

	// Первое соединение — ровно один user:online
	device1 := authClient(h, alice, "alice")
	online := eventsOfType(drainEvents(t, observer), TypeUserOnline)
	require.Len(t, online, 1)
	assert.Equal(t, alice, online[0].UserID)

	// Второе устройство того же пользователя — тишина
	device2 := authClient(h, alice, "alice")
	assert.Empty(t, eventsOfType(drainEvents(t, observer), TypeUserOnline))

	// Своих соединений user:online не касается
	assert.Empty(t, eventsOfType(drainEvents(t, device1), TypeUserOnline))
	_ = device2
}

func TestHub_OfflineOnLastDisconnect(t *testing.T) {
	h := NewHub()

	alice := uuid.New()
	bob := uuid.New()

	observer := authClient(h, bob, "bob")

	device1 := authClient(h, alice, "alice")
	device2 := authClient(h, alice, "alice")
	drainEvents(t, observer)

	// Закрыли первое устройство — пользователь всё ещё онлайн
	h.unregisterClient(device1)
	assert.Empty(t, eventsOfType(drainEvents(t, observer), TypeUserOffline))
	assert.True(t, h.IsUserOnline(alice))

	// Закрыли последнее — ровно один user:offline
	h.unregisterClient(device2)
	offline := eventsOfType(drainEvents(t, observer), TypeUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, alice, offline[0].UserID)
	assert.False(t, h.IsUserOnline(alice))
}

func TestHub_DisconnectCleansSubscriptions(t *testing.T) {
	h := NewHub()
	roomID := uuid.New()

	alice := uuid.New()
	bob := uuid.New()

	leaving := authClient(h, alice, "alice")
	staying := authClient(h, bob, "bob")

	h.JoinRoom(leaving, roomID)
	h.JoinRoom(staying, roomID)

	h.unregisterClient(leaving)

	// Рассылка после дисконнекта не должна видеть мёртвого клиента
	assert.NotContains(t, h.GetRoomUsers(roomID), alice)

	drainEvents(t, staying)
	data, err := MarshalEvent(TypeMessageNew, &roomID, bob, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		h.SendToRoom(roomID, data)
	})
	assert.Len(t, drainEvents(t, staying), 1)
}

func TestHub_TypingLifecycle(t *testing.T) {
	h := NewHubWithTypingExpiry(40 * time.Millisecond)
	roomID := uuid.New()

	alice := uuid.New()
	bob := uuid.New()

	typer := authClient(h, alice, "alice")
	watcher := authClient(h, bob, "bob")

	h.JoinRoom(typer, roomID)
	h.JoinRoom(watcher, roomID)
	drainEvents(t, watcher)

	// start, затем тишина: ровно один typing:start и ровно один typing:stop
	h.TypingStart(roomID, alice, "alice")
	h.TypingStart(roomID, alice, "alice")

	starts := eventsOfType(drainEvents(t, watcher), TypeTypingStart)
	require.Len(t, starts, 1, "refresh must not re-broadcast")
	assert.Equal(t, alice, starts[0].UserID)

	assert.Eventually(t, func() bool {
		return len(eventsOfType(drainEvents(t, watcher), TypeTypingStop)) == 1
	}, time.Second, 5*time.Millisecond)

	// Сам печатающий своих событий не получает
	assert.Empty(t, eventsOfType(drainEvents(t, typer), TypeTypingStart))
	assert.Empty(t, eventsOfType(drainEvents(t, typer), TypeTypingStop))
}

func TestHub_ExplicitTypingStop(t *testing.T) {
	h := NewHub()
	roomID := uuid.New()

	alice := uuid.New()
	bob := uuid.New()

	typer := authClient(h, alice, "alice")
	watcher := authClient(h, bob, "bob")

	h.JoinRoom(typer, roomID)
	h.JoinRoom(watcher, roomID)
	drainEvents(t, watcher)

	h.TypingStart(roomID, alice, "alice")
	h.TypingStop(roomID, alice)

	events := drainEvents(t, watcher)
	assert.Len(t, eventsOfType(events, TypeTypingStart), 1)
	assert.Len(t, eventsOfType(events, TypeTypingStop), 1)

	// Повторный stop не рассылается
	h.TypingStop(roomID, alice)
	assert.Empty(t, eventsOfType(drainEvents(t, watcher), TypeTypingStop))
}

func TestHub_LeaveRoomStopsDelivery(t *testing.T) {
	h := NewHub()
	roomID := uuid.New()

	alice := uuid.New()
	bob := uuid.New()

	member := authClient(h, alice, "alice")
	leaver := authClient(h, bob, "bob")

	h.JoinRoom(member, roomID)
	h.JoinRoom(leaver, roomID)

	h.LeaveRoom(leaver, roomID)
	assert.False(t, leaver.IsInRoom(roomID))

	data, err := MarshalEvent(TypeMessageNew, &roomID, alice, nil)
	require.NoError(t, err)
	h.SendToRoom(roomID, data)

	assert.Len(t, drainEvents(t, member), 1)
	assert.Empty(t, drainEvents(t, leaver))
}
