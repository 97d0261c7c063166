package room

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member struct{ id string }

func (m *member) ID() string { return m.id }

func TestJoinLeaveCounts(t *testing.T) {
	reg := NewRegistry[*member]()
	a, b := &member{"a"}, &member{"b"}

	count, added := reg.Join("r1", a)
	assert.Equal(t, 1, count)
	assert.True(t, added)

	count, added = reg.Join("r1", b)
	assert.Equal(t, 2, count)
	assert.True(t, added)

	count, added = reg.Join("r1", a)
	assert.Equal(t, 2, count)
	assert.False(t, added)

	count, removed := reg.Leave("r1", a)
	assert.Equal(t, 1, count)
	assert.True(t, removed)

	count, removed = reg.Leave("r1", a)
	assert.Equal(t, 1, count)
	assert.False(t, removed)

	count, removed = reg.Leave("r1", b)
	assert.Equal(t, 0, count)
	assert.True(t, removed)

	_, ok := reg.Snapshot("r1")
	assert.False(t, ok, "empty rooms are dropped")
	assert.Empty(t, reg.List())
}

func TestLeaveUnknownRoom(t *testing.T) {
	reg := NewRegistry[*member]()
	count, removed := reg.Leave("nowhere", &member{"a"})
	assert.Equal(t, 0, count)
	assert.False(t, removed)
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	reg := NewRegistry[*member]()
	a := &member{"a"}

	reg.Join("r1", a)
	reg.Join("r2", a)

	assert.False(t, reg.Contains("r1", a))
	assert.True(t, reg.Contains("r2", a))
	assert.Equal(t, 0, reg.Count("r1"))
	assert.Equal(t, 1, reg.Count("r2"))

	rooms, members := reg.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, members)
}

func TestSnapshotMembers(t *testing.T) {
	reg := NewRegistry[*member]()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	reg.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	reg.Join("r1", &member{"b"})
	reg.Join("r1", &member{"a"})

	info, ok := reg.Snapshot("r1")
	require.True(t, ok)
	assert.Equal(t, "r1", info.RoomID)
	assert.Equal(t, 2, info.UsersCount)
	require.Len(t, info.Users, 2)
	assert.Equal(t, "b", info.Users[0].ID)
	assert.Equal(t, base.Add(time.Second), info.Users[0].ConnectedAt)
	assert.Equal(t, "a", info.Users[1].ID)
}

func TestListIsSortedWithoutMembers(t *testing.T) {
	reg := NewRegistry[*member]()
	reg.Join("zeta", &member{"1"})
	reg.Join("alpha", &member{"2"})
	reg.Join("alpha", &member{"3"})

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, Info{RoomID: "alpha", UsersCount: 2}, list[0])
	assert.Equal(t, Info{RoomID: "zeta", UsersCount: 1}, list[1])
}

func TestEachVisitsOnlyRoomMembers(t *testing.T) {
	reg := NewRegistry[*member]()
	reg.Join("r1", &member{"a"})
	reg.Join("r1", &member{"b"})
	reg.Join("r2", &member{"c"})

	var seen []string
	reg.Each("r1", func(m *member) { seen = append(seen, m.id) })
	assert.ElementsMatch(t, []string{"a", "b"}, seen)

	reg.Each("missing", func(m *member) { t.Fatal("no members expected") })
}

func TestConcurrentJoinLeave(t *testing.T) {
	reg := NewRegistry[*member]()
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &member{fmt.Sprintf("m%d", i)}
			room := fmt.Sprintf("r%d", i%5)
			reg.Join(room, m)
			reg.Each(room, func(*member) {})
			reg.Leave(room, m)
			reg.Leave(room, m)
		}(i)
	}
	wg.Wait()

	rooms, members := reg.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, members)
}

func TestRoomsDoNotBlockEachOther(t *testing.T) {
	reg := NewRegistry[*member]()
	reg.Join("r1", &member{"a"})

	// r1 stays locked for reading while another room churns
	reg.Each("r1", func(*member) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			b := &member{"b"}
			reg.Join("r2", b)
			reg.Leave("r2", b)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("join in r2 waited on r1")
		}
	})

	assert.Equal(t, 1, reg.Count("r1"))
	assert.Equal(t, 0, reg.Count("r2"))
}

func TestRoomReopensAfterClosing(t *testing.T) {
	reg := NewRegistry[*member]()
	const rounds = 200

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				m := &member{fmt.Sprintf("m%d-%d", i, j)}
				_, added := reg.Join("busy", m)
				assert.True(t, added)
				assert.True(t, reg.Contains("busy", m))
				_, removed := reg.Leave("busy", m)
				assert.True(t, removed)
			}
		}(i)
	}
	wg.Wait()

	rooms, members := reg.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, members)
	assert.Empty(t, reg.List())
}

func TestMembersAcrossRooms(t *testing.T) {
	reg := NewRegistry[*member]()
	a, b, c := &member{"a"}, &member{"b"}, &member{"c"}
	reg.Join("r1", a)
	reg.Join("r1", b)
	reg.Join("r2", c)

	assert.ElementsMatch(t, []*member{a, b, c}, reg.Members())

	reg.Leave("r1", a)
	assert.ElementsMatch(t, []*member{b, c}, reg.Members())
}
