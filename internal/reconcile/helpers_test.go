package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/ourea-as/meadstats-api/internal/records"
	"github.com/ourea-as/meadstats-api/internal/untappd"
)

var errUpstream = errors.New("upstream unavailable")

func newTestStore(t *testing.T) (*records.Store, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(records.Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	store, err := records.NewStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store, db
}

type fakeSource struct {
	mu           sync.Mutex
	profile      untappd.UserProfile
	profileErr   error
	beers        []untappd.BeerItem
	friends      []untappd.FriendItem
	beerErrAt    map[int]error
	friendErrAt  map[int]error
	beerCalls    []int
	friendCalls  []int
	gate         chan struct{}
	seenTokens   []string
	seenUsername []string
}

func (s *fakeSource) UserInfo(ctx context.Context, username, accessToken string) (untappd.UserProfile, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenTokens = append(s.seenTokens, accessToken)
	s.seenUsername = append(s.seenUsername, username)
	if s.profileErr != nil {
		return untappd.UserProfile{}, s.profileErr
	}
	return s.profile, nil
}

func (s *fakeSource) UserBeers(ctx context.Context, username string, offset, limit int, accessToken string) (untappd.BeerPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beerCalls = append(s.beerCalls, offset)
	if err := s.beerErrAt[offset]; err != nil {
		return untappd.BeerPage{}, err
	}
	return untappd.BeerPage{Count: len(s.beers), Items: window(s.beers, offset, limit)}, nil
}

func (s *fakeSource) UserFriends(ctx context.Context, username string, offset, limit int, accessToken string) (untappd.FriendPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friendCalls = append(s.friendCalls, offset)
	if err := s.friendErrAt[offset]; err != nil {
		return untappd.FriendPage{}, err
	}
	return untappd.FriendPage{Count: len(s.friends), Items: window(s.friends, offset, limit)}, nil
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// beerItems builds count items, newest first, with checkin ids starting at firstID.
func beerItems(count int, firstID int64) []untappd.BeerItem {
	base := time.Date(2024, time.June, 1, 20, 0, 0, 0, time.UTC)
	items := make([]untappd.BeerItem, 0, count)
	for i := 0; i < count; i++ {
		id := firstID + int64(i)
		items = append(items, untappd.BeerItem{
			FirstCheckinID: id,
			Count:          1,
			RatingScore:    float64(i%5) + 0.5,
			FirstHad:       base.Add(-time.Duration(i) * time.Hour),
			Beer:           untappd.BeerDetails{BID: 1000 + id, BeerName: fmt.Sprintf("beer-%d", id)},
			Brewery: untappd.BreweryDetails{
				BreweryID:   int64(i%3) + 1,
				BreweryName: fmt.Sprintf("brewery-%d", i%3+1),
				CountryName: "Norway ",
			},
		})
	}
	return items
}

func friendItems(uids ...int64) []untappd.FriendItem {
	items := make([]untappd.FriendItem, 0, len(uids))
	for _, uid := range uids {
		items = append(items, untappd.FriendItem{
			FriendshipHash: fmt.Sprintf("hash-%d", uid),
			User: untappd.FriendUser{
				UID:        uid,
				UserName:   fmt.Sprintf("friend%d", uid),
				FirstName:  "Friend",
				LastName:   "Østby",
				UserAvatar: "avatar.png",
			},
		})
	}
	return items
}

func profile(uid int64, name string, beers, friends int) untappd.UserProfile {
	return untappd.UserProfile{
		UID:       uid,
		UserName:  name,
		FirstName: "Mead",
		LastName:  "Lover",
		Stats:     untappd.Stats{TotalBeers: beers, TotalFriends: friends, TotalCheckins: beers * 2, TotalBadges: 3},
	}
}

type recordingReporter struct {
	mu     sync.Mutex
	events []Progress
}

func (r *recordingReporter) ReportProgress(progress Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progress)
}

type failingCheckinStore struct {
	*records.Store
	failAfter int
	inserted  int
}

func (s *failingCheckinStore) InsertCheckin(ctx context.Context, checkin *records.Checkin) (bool, error) {
	if s.inserted >= s.failAfter {
		return false, errors.New("disk full")
	}
	s.inserted++
	return s.Store.InsertCheckin(ctx, checkin)
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("run-%d", s.next), nil
}

func newTestReconciler(t *testing.T, store RecordStore, source DataSource, reporter ProgressReporter) *Reconciler {
	t.Helper()
	reconciler, err := NewReconciler(Config{
		Store:    store,
		Source:   source,
		Reporter: reporter,
		Clock:    func() time.Time { return time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}
	return reconciler
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}
