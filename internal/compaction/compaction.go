package compaction

import (
	"log/slog"
	"sync"
	"time"
)

// Store is the part of the database the compactor needs
type Store interface {
	RoomsOverActionLimit(limit int) ([]string, error)
	TrimActions(roomID string, keepCount int) (int64, error)
}

type Config struct {
	Interval time.Duration
	// MaxRoomHistory is the number of newest actions kept per room
	MaxRoomHistory int
}

func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		MaxRoomHistory: 1000,
	}
}

type Service struct {
	store    Store
	config   Config
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(store Store, config Config) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Service{
		store:  store,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	if s.config.MaxRoomHistory <= 0 {
		slog.Info("compaction disabled")
		return
	}

	s.wg.Add(1)
	go s.run()
	slog.Info("compaction service started",
		"interval", s.config.Interval,
		"max_room_history", s.config.MaxRoomHistory)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		slog.Info("compaction service stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.compactAllRooms()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.compactAllRooms()
		}
	}
}

// compactAllRooms trims every room over the limit and returns the number of
// rows removed.
func (s *Service) compactAllRooms() int64 {
	rooms, err := s.store.RoomsOverActionLimit(s.config.MaxRoomHistory)
	if err != nil {
		slog.Error("compaction: list rooms failed", "error", err)
		return 0
	}

	var total int64
	for _, roomID := range rooms {
		removed, err := s.CompactNow(roomID)
		if err != nil {
			slog.Error("compaction failed", "room", roomID, "error", err)
			continue
		}
		total += removed
	}

	if len(rooms) > 0 {
		slog.Info("compacted rooms", "rooms", len(rooms), "removed_actions", total)
	}
	return total
}

// CompactNow trims one room's action history down to MaxRoomHistory
func (s *Service) CompactNow(roomID string) (int64, error) {
	removed, err := s.store.TrimActions(roomID, s.config.MaxRoomHistory)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Debug("trimmed room history", "room", roomID, "removed", removed)
	}
	return removed, nil
}
