package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ourea-as/meadstats-api/internal/records"
)

func TestNewReconcilerValidatesDependencies(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := NewReconciler(Config{Source: &fakeSource{}}); err == nil || !strings.Contains(err.Error(), reasonMissingStore) {
		t.Fatalf("expected missing store error, got %v", err)
	}
	if _, err := NewReconciler(Config{Store: store}); err == nil || !strings.Contains(err.Error(), reasonMissingSource) {
		t.Fatalf("expected missing source error, got %v", err)
	}
}

func TestRunCompletesBothPhases(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	if _, err := store.CreateUser(ctx, &records.User{ID: 1, UserName: "caller", AccessToken: "caller-token"}); err != nil {
		t.Fatalf("seed caller failed: %v", err)
	}
	source := &fakeSource{
		profile: profile(9, "mead", 60, 2),
		beers:   beerItems(60, 100),
		friends: friendItems(21, 22),
	}
	reporter := &recordingReporter{}
	reconciler := newTestReconciler(t, store, source, reporter)

	result, err := reconciler.Run(ctx, Request{
		RunID:       "run-1",
		Username:    "mead",
		AccessToken: "caller-token",
		RequesterID: 1,
		Requester:   "caller",
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.State != StateDone || result.Phase != StateSyncingFriends || result.Err != nil {
		t.Fatalf("unexpected result %#v", result)
	}
	if result.CheckinsCreated != 60 || result.BeersProcessed != 60 || result.FriendsProcessed != 2 {
		t.Fatalf("unexpected counters %#v", result)
	}
	if got := countRows(t, db, &records.Checkin{}); got != 60 {
		t.Fatalf("expected 60 checkins, got %d", got)
	}
	if got := countRows(t, db, &records.Brewery{}); got != 3 {
		t.Fatalf("expected 3 breweries, got %d", got)
	}
	if got := countRows(t, db, &records.Friendship{}); got != 2 {
		t.Fatalf("expected 2 friendships, got %d", got)
	}

	brewery, err := store.FindBrewery(ctx, 1)
	if err != nil {
		t.Fatalf("brewery lookup failed: %v", err)
	}
	if brewery.Country != "Norway" {
		t.Fatalf("expected trimmed country, got %q", brewery.Country)
	}

	user, err := store.FindUser(ctx, 9)
	if err != nil {
		t.Fatalf("user lookup failed: %v", err)
	}
	if user.LastUpdate == nil || !user.LastUpdate.Equal(time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected last update to be stored, got %v", user.LastUpdate)
	}
	if user.HasCredential() || user.TotalBeers != 60 {
		t.Fatalf("unexpected synced user %#v", user)
	}

	caller, err := store.FindUser(ctx, 1)
	if err != nil {
		t.Fatalf("caller lookup failed: %v", err)
	}
	if caller.APIRequestCount != 4 {
		t.Fatalf("expected 4 api requests to be recorded, got %d", caller.APIRequestCount)
	}

	wantEvents := []Progress{
		{RunID: "run-1", Username: "mead", Requester: "caller", Offset: 0, Total: 60, Action: ActionCheckins},
		{RunID: "run-1", Username: "mead", Requester: "caller", Offset: 50, Total: 60, Action: ActionCheckins},
		{RunID: "run-1", Username: "mead", Requester: "caller", Offset: 0, Total: 2, Action: ActionFriends},
	}
	if len(reporter.events) != len(wantEvents) {
		t.Fatalf("expected %d progress events, got %#v", len(wantEvents), reporter.events)
	}
	for i, want := range wantEvents {
		if reporter.events[i] != want {
			t.Fatalf("event %d: expected %#v, got %#v", i, want, reporter.events[i])
		}
	}
	if source.seenTokens[0] != "caller-token" {
		t.Fatalf("expected caller credential to be used, got %q", source.seenTokens[0])
	}
}

func TestRunStopsAtFirstStoredCheckinAndSkipsFriends(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	items := beerItems(60, 100)
	source := &fakeSource{profile: profile(9, "mead", 60, 2), beers: items, friends: friendItems(21, 22)}
	reconciler := newTestReconciler(t, store, source, nil)

	seed := &fakeSource{profile: source.profile, beers: items[2:3]}
	seeded := newTestReconciler(t, store, seed, nil)
	seed.profile.Stats.TotalBeers = 1
	seed.profile.Stats.TotalFriends = 0
	if _, err := seeded.Run(ctx, Request{Username: "mead"}); err != nil {
		t.Fatalf("seed run failed: %v", err)
	}

	result, err := reconciler.Run(ctx, Request{RunID: "run-2", Username: "mead"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.State != StateCaughtUp || result.Phase != StateSyncingBeers {
		t.Fatalf("expected caught up during beers, got %#v", result)
	}
	if result.CheckinsCreated != 2 || result.BeersProcessed != 3 {
		t.Fatalf("unexpected counters %#v", result)
	}
	if len(source.friendCalls) != 0 {
		t.Fatalf("friends must not be fetched, got calls %v", source.friendCalls)
	}
	if len(source.beerCalls) != 1 {
		t.Fatalf("expected a single beer page, got %v", source.beerCalls)
	}
	if got := countRows(t, db, &records.Checkin{}); got != 3 {
		t.Fatalf("expected 3 checkins, got %d", got)
	}
	if got := countRows(t, db, &records.Friendship{}); got != 0 {
		t.Fatalf("expected no friendships, got %d", got)
	}
}

func TestRunKeepsPartialWritesWhenFetchFails(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	source := &fakeSource{
		profile:   profile(9, "mead", 120, 2),
		beers:     beerItems(120, 100),
		friends:   friendItems(21),
		beerErrAt: map[int]error{50: errUpstream},
	}
	reconciler := newTestReconciler(t, store, source, nil)

	result, err := reconciler.Run(ctx, Request{RunID: "run-3", Username: "mead"})
	if err != nil {
		t.Fatalf("fetch failures must not be returned, got %v", err)
	}
	if result.State != StateAborted || result.Phase != StateSyncingBeers {
		t.Fatalf("expected aborted during beers, got %#v", result)
	}
	if !errors.Is(result.Err, errUpstream) {
		t.Fatalf("expected upstream error on result, got %v", result.Err)
	}
	var serviceErr *ServiceError
	if !errors.As(result.Err, &serviceErr) || serviceErr.Code() != "reconcile.run.fetch_beers_failed" {
		t.Fatalf("unexpected error code %v", result.Err)
	}
	if got := countRows(t, db, &records.Checkin{}); got != 50 {
		t.Fatalf("expected first page to be kept, got %d checkins", got)
	}
	if len(source.friendCalls) != 0 {
		t.Fatalf("friends must not be fetched after abort, got %v", source.friendCalls)
	}
	user, err := store.FindUser(ctx, 9)
	if err != nil {
		t.Fatalf("user lookup failed: %v", err)
	}
	if user.LastUpdate != nil {
		t.Fatalf("last update must not be set on abort, got %v", user.LastUpdate)
	}
}

func TestRunAbortsDuringFriends(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	uids := make([]int64, 0, 60)
	for uid := int64(100); uid < 160; uid++ {
		uids = append(uids, uid)
	}
	source := &fakeSource{
		profile:     profile(9, "mead", 3, len(uids)),
		beers:       beerItems(3, 100),
		friends:     friendItems(uids...),
		friendErrAt: map[int]error{25: errUpstream},
	}
	reconciler := newTestReconciler(t, store, source, nil)

	result, err := reconciler.Run(ctx, Request{RunID: "run-4", Username: "mead"})
	if err != nil {
		t.Fatalf("fetch failures must not be returned, got %v", err)
	}
	if result.State != StateAborted || result.Phase != StateSyncingFriends {
		t.Fatalf("expected aborted during friends, got %#v", result)
	}
	var serviceErr *ServiceError
	if !errors.As(result.Err, &serviceErr) || serviceErr.Code() != "reconcile.run."+reasonFetchFriends {
		t.Fatalf("unexpected error %v", result.Err)
	}
	if !errors.Is(result.Err, errUpstream) {
		t.Fatalf("expected upstream error on result, got %v", result.Err)
	}
	if len(source.friendCalls) != 2 || source.friendCalls[0] != 0 || source.friendCalls[1] != 25 {
		t.Fatalf("unexpected friend pages %v", source.friendCalls)
	}
	if result.FriendsProcessed != 25 {
		t.Fatalf("expected the first friend page to be processed, got %d", result.FriendsProcessed)
	}
	if got := countRows(t, db, &records.Friendship{}); got != 25 {
		t.Fatalf("expected first page friendships to be kept, got %d", got)
	}
	if got := countRows(t, db, &records.Checkin{}); got != 3 {
		t.Fatalf("expected checkins to be kept, got %d", got)
	}
	user, err := store.FindUser(ctx, 9)
	if err != nil {
		t.Fatalf("user lookup failed: %v", err)
	}
	if user.LastUpdate != nil {
		t.Fatalf("last update must not be set on abort, got %v", user.LastUpdate)
	}
}

func TestRunAbortsWhenUserFetchFails(t *testing.T) {
	store, db := newTestStore(t)
	source := &fakeSource{profileErr: errUpstream}
	reconciler := newTestReconciler(t, store, source, nil)

	result, err := reconciler.Run(context.Background(), Request{Username: "mead"})
	if err != nil {
		t.Fatalf("fetch failures must not be returned, got %v", err)
	}
	if result.State != StateAborted || result.Phase != StateFetchingUser {
		t.Fatalf("unexpected result %#v", result)
	}
	if got := countRows(t, db, &records.User{}); got != 0 {
		t.Fatalf("expected no users, got %d", got)
	}
}

func TestRunReturnsStoreFailures(t *testing.T) {
	base, db := newTestStore(t)
	store := &failingCheckinStore{Store: base, failAfter: 5}
	source := &fakeSource{profile: profile(9, "mead", 20, 0), beers: beerItems(20, 100)}
	reconciler := newTestReconciler(t, store, source, nil)

	result, err := reconciler.Run(context.Background(), Request{Username: "mead"})
	if err == nil {
		t.Fatalf("expected store failure to be returned")
	}
	if result.State != StateAborted || result.Err == nil {
		t.Fatalf("unexpected result %#v", result)
	}
	if !strings.Contains(err.Error(), reasonBeerStoreFailed) {
		t.Fatalf("unexpected error %v", err)
	}
	if got := countRows(t, db, &records.Checkin{}); got != 5 {
		t.Fatalf("expected 5 checkins before failure, got %d", got)
	}
}

func TestRunDeduplicatesReversedFriendship(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	first := newTestReconciler(t, store, &fakeSource{profile: profile(21, "friend21", 0, 1), friends: friendItems(9)}, nil)
	if _, err := first.Run(ctx, Request{Username: "friend21"}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := newTestReconciler(t, store, &fakeSource{profile: profile(9, "mead", 0, 1), friends: friendItems(21)}, nil)
	result, err := second.Run(ctx, Request{Username: "mead"})
	if err != nil || result.State != StateDone {
		t.Fatalf("second run failed: %#v %v", result, err)
	}

	if got := countRows(t, db, &records.Friendship{}); got != 1 {
		t.Fatalf("expected a single friendship row, got %d", got)
	}
	friendship, err := store.FindFriendshipBetween(ctx, 9, 21)
	if err != nil {
		t.Fatalf("friendship lookup failed: %v", err)
	}
	if friendship.Hash != "hash-9" {
		t.Fatalf("expected first written hash to win, got %q", friendship.Hash)
	}
}

func TestRunCreatesFriendPlaceholders(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	reconciler := newTestReconciler(t, store, &fakeSource{profile: profile(9, "mead", 0, 1), friends: friendItems(21)}, nil)

	if _, err := reconciler.Run(ctx, Request{Username: "mead"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	friend, err := store.FindUser(ctx, 21)
	if err != nil {
		t.Fatalf("friend lookup failed: %v", err)
	}
	if friend.LastName != "Ø" || friend.AvatarHD != "avatar.png" || friend.HasCredential() || friend.TotalBeers != 0 {
		t.Fatalf("unexpected placeholder %#v", friend)
	}
}

func TestRunStoresBreweryCountryVerbatim(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	reconciler := newTestReconciler(t, store, &fakeSource{profile: profile(9, "mead", 1, 0), beers: beerItems(1, 100)}, nil)

	if _, err := reconciler.Run(ctx, Request{Username: "mead"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	brewery, err := store.FindBrewery(ctx, 1)
	if err != nil {
		t.Fatalf("brewery lookup failed: %v", err)
	}
	if brewery.Country != "Norway " {
		t.Fatalf("expected country as sent by the source, got %q", brewery.Country)
	}
}

func TestRunUpdatesExistingProfileAndKeepsCredential(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.CreateUser(ctx, &records.User{ID: 9, UserName: "mead", AccessToken: "secret", FirstName: "Old"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	reconciler := newTestReconciler(t, store, &fakeSource{profile: profile(9, "mead", 0, 0)}, nil)

	if _, err := reconciler.Run(ctx, Request{Username: "mead"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	user, err := store.FindUser(ctx, 9)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if user.FirstName != "Mead" || user.TotalBadges != 3 || user.AccessToken != "secret" {
		t.Fatalf("unexpected user %#v", user)
	}
}

func TestRunRequiresUsername(t *testing.T) {
	store, _ := newTestStore(t)
	reconciler := newTestReconciler(t, store, &fakeSource{}, nil)

	result, err := reconciler.Run(context.Background(), Request{Username: "  "})
	if !errors.Is(err, ErrMissingUsername) || result.State != StateAborted {
		t.Fatalf("expected missing username abort, got %#v %v", result, err)
	}
}

func TestRefreshFirstPage(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	items := beerItems(10, 100)
	source := &fakeSource{beers: items}
	reconciler := newTestReconciler(t, store, source, nil)

	if _, err := reconciler.RefreshFirstPage(ctx, records.User{ID: 9, UserName: "mead"}); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}

	user := records.User{ID: 9, UserName: "mead", AccessToken: "own-token"}
	if _, err := store.CreateUser(ctx, &user); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	updated, err := reconciler.RefreshFirstPage(ctx, user)
	if err != nil || !updated {
		t.Fatalf("expected first refresh to insert, updated=%v err=%v", updated, err)
	}
	updated, err = reconciler.RefreshFirstPage(ctx, user)
	if err != nil || updated {
		t.Fatalf("expected second refresh to be a no-op, updated=%v err=%v", updated, err)
	}
	if got := countRows(t, db, &records.Checkin{}); got != 10 {
		t.Fatalf("expected 10 checkins, got %d", got)
	}
	stored, err := store.FindUser(ctx, 9)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.APIRequestCount != 2 {
		t.Fatalf("expected 2 recorded requests, got %d", stored.APIRequestCount)
	}
}
