// Package reconcile merges Untappd checkin history into the record store.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ourea-as/meadstats-api/internal/records"
	"github.com/ourea-as/meadstats-api/internal/untappd"
)

const (
	// BeerPageSize is the Untappd maximum for user/beers.
	BeerPageSize = 50
	// FriendPageSize is the Untappd maximum for user/friends.
	FriendPageSize = 25
)

// RecordStore is the persistence surface used by sync runs.
type RecordStore interface {
	FindUser(ctx context.Context, id int64) (*records.User, error)
	CreateUser(ctx context.Context, user *records.User) (*records.User, error)
	UpdateUserProfile(ctx context.Context, user *records.User) error
	TouchLastUpdate(ctx context.Context, userID int64, at time.Time) error
	IncrementAPIRequests(ctx context.Context, userID int64, delta int) error
	InsertBrewery(ctx context.Context, brewery *records.Brewery) (*records.Brewery, error)
	InsertBeer(ctx context.Context, beer *records.Beer) (*records.Beer, error)
	InsertCheckin(ctx context.Context, checkin *records.Checkin) (bool, error)
	InsertFriendship(ctx context.Context, hash string, a, b int64) (*records.Friendship, error)
}

// DataSource is the subset of the Untappd API used by sync runs.
type DataSource interface {
	UserInfo(ctx context.Context, username, accessToken string) (untappd.UserProfile, error)
	UserBeers(ctx context.Context, username string, offset, limit int, accessToken string) (untappd.BeerPage, error)
	UserFriends(ctx context.Context, username string, offset, limit int, accessToken string) (untappd.FriendPage, error)
}

// Config describes the dependencies of a Reconciler.
type Config struct {
	Store    RecordStore
	Source   DataSource
	Reporter ProgressReporter
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Reconciler runs incremental syncs one user at a time.
type Reconciler struct {
	store    RecordStore
	source   DataSource
	reporter ProgressReporter
	clock    func() time.Time
	logger   *zap.Logger
}

// Request identifies the user to sync and the credential to fetch with.
type Request struct {
	RunID       string
	Username    string
	AccessToken string
	// RequesterID and Requester identify the authenticated caller whose credential is used.
	RequesterID int64
	Requester   string
}

// NewReconciler validates cfg and applies defaults.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opReconcilerNew, reasonMissingStore, errMissingStore)
	}
	if cfg.Source == nil {
		return nil, newServiceError(opReconcilerNew, reasonMissingSource, errMissingSource)
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = NopProgressReporter{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reconciler{
		store:    cfg.Store,
		source:   cfg.Source,
		reporter: reporter,
		clock:    clock,
		logger:   logger,
	}, nil
}

type run struct {
	*Reconciler
	request  Request
	result   RunResult
	requests int
}

// Run executes one sync. Fetch failures end the run Aborted with result.Err set and a nil error.
// Store failures end the run Aborted and are also returned.
func (r *Reconciler) Run(ctx context.Context, request Request) (RunResult, error) {
	current := &run{
		Reconciler: r,
		request:    request,
		result: RunResult{
			RunID:     request.RunID,
			Username:  request.Username,
			Requester: request.Requester,
			State:     StateIdle,
			Phase:     StateIdle,
		},
	}
	defer current.recordRequests(ctx)

	if strings.TrimSpace(request.Username) == "" {
		err := newServiceError(opRun, reasonMissingUsername, ErrMissingUsername)
		return current.abort(err), err
	}

	r.logger.Info("sync run started",
		zap.String(fieldRunID, request.RunID),
		zap.String(fieldUsername, request.Username))

	user, err := current.fetchUser(ctx)
	if err != nil {
		return current.finish(err)
	}

	if stop, err := current.syncBeers(ctx, user); err != nil || stop {
		return current.finish(err)
	}
	if err := current.syncFriends(ctx, user); err != nil {
		return current.finish(err)
	}

	if err := r.store.TouchLastUpdate(ctx, user.ID, r.clock().UTC()); err != nil {
		logError(r.logger, opRun, reasonLastUpdateFailed, err, zap.String(fieldRunID, request.RunID))
		return current.finish(&storeFailure{newServiceError(opRun, reasonLastUpdateFailed, err)})
	}
	current.result.State = StateDone
	return current.finish(nil)
}

// storeFailure marks errors that must be returned to the caller.
type storeFailure struct {
	err error
}

func (f *storeFailure) Error() string { return f.err.Error() }
func (f *storeFailure) Unwrap() error { return f.err }

func (c *run) enter(state State) {
	c.result.State = state
	c.result.Phase = state
}

func (c *run) abort(err error) RunResult {
	c.result.State = StateAborted
	c.result.Err = err
	return c.result
}

func (c *run) finish(err error) (RunResult, error) {
	if err != nil {
		var failure *storeFailure
		if errors.As(err, &failure) {
			return c.abort(failure.err), failure.err
		}
		return c.abort(err), nil
	}
	c.logger.Info("sync run finished",
		zap.String(fieldRunID, c.request.RunID),
		zap.String(fieldUsername, c.request.Username),
		zap.String("state", string(c.result.State)),
		zap.Int("checkins_created", c.result.CheckinsCreated),
		zap.Int("friends_processed", c.result.FriendsProcessed))
	return c.result, nil
}

func (c *run) recordRequests(ctx context.Context) {
	if c.request.RequesterID == 0 || c.requests == 0 {
		return
	}
	if err := c.store.IncrementAPIRequests(ctx, c.request.RequesterID, c.requests); err != nil {
		logError(c.logger, opRun, reasonRequestCountFail, err, zap.String(fieldRunID, c.request.RunID))
	}
}

func (c *run) fetchUser(ctx context.Context) (*records.User, error) {
	c.enter(StateFetchingUser)
	c.requests++
	profile, err := c.source.UserInfo(ctx, c.request.Username, c.request.AccessToken)
	if err != nil {
		logError(c.logger, opRun, reasonFetchUserFailed, err, zap.String(fieldRunID, c.request.RunID))
		return nil, newServiceError(opRun, reasonFetchUserFailed, err)
	}
	user, err := upsertProfile(ctx, c.store, profile)
	if err != nil {
		logError(c.logger, opRun, reasonUserStoreFailed, err, zap.String(fieldRunID, c.request.RunID))
		return nil, &storeFailure{newServiceError(opRun, reasonUserStoreFailed, err)}
	}
	return user, nil
}

// syncBeers reports stop when an already stored checkin ended the run.
func (c *run) syncBeers(ctx context.Context, user *records.User) (bool, error) {
	c.enter(StateSyncingBeers)
	total := user.TotalBeers
	for offset := 0; offset < total; offset += BeerPageSize {
		c.report(offset, total, ActionCheckins)
		c.requests++
		page, err := c.source.UserBeers(ctx, c.request.Username, offset, BeerPageSize, c.request.AccessToken)
		if err != nil {
			logError(c.logger, opRun, reasonFetchBeersFailed, err,
				zap.String(fieldRunID, c.request.RunID), zap.Int(fieldOffset, offset))
			return true, newServiceError(opRun, reasonFetchBeersFailed, err)
		}
		for _, item := range page.Items {
			created, err := applyBeer(ctx, c.store, item, user.ID)
			if err != nil {
				logError(c.logger, opRun, reasonBeerStoreFailed, err,
					zap.String(fieldRunID, c.request.RunID), zap.Int64("checkin_id", item.FirstCheckinID))
				return true, &storeFailure{newServiceError(opRun, reasonBeerStoreFailed, err)}
			}
			c.result.BeersProcessed++
			if !created {
				c.result.State = StateCaughtUp
				return true, nil
			}
			c.result.CheckinsCreated++
		}
	}
	return false, nil
}

func (c *run) syncFriends(ctx context.Context, user *records.User) error {
	c.enter(StateSyncingFriends)
	total := user.TotalFriends
	for offset := 0; offset < total; offset += FriendPageSize {
		c.report(offset, total, ActionFriends)
		c.requests++
		page, err := c.source.UserFriends(ctx, c.request.Username, offset, FriendPageSize, c.request.AccessToken)
		if err != nil {
			logError(c.logger, opRun, reasonFetchFriends, err,
				zap.String(fieldRunID, c.request.RunID), zap.Int(fieldOffset, offset))
			return newServiceError(opRun, reasonFetchFriends, err)
		}
		for _, item := range page.Items {
			if err := applyFriend(ctx, c.store, item, user.ID); err != nil {
				logError(c.logger, opRun, reasonFriendStoreFailed, err,
					zap.String(fieldRunID, c.request.RunID), zap.String("friendship_hash", item.FriendshipHash))
				return &storeFailure{newServiceError(opRun, reasonFriendStoreFailed, err)}
			}
			c.result.FriendsProcessed++
		}
	}
	return nil
}

func (c *run) report(offset, total int, action Action) {
	c.reporter.ReportProgress(Progress{
		RunID:     c.request.RunID,
		Username:  c.request.Username,
		Requester: c.request.Requester,
		Offset:    offset,
		Total:     total,
		Action:    action,
	})
}

// RefreshFirstPage applies the newest page of user's beers using the user's own credential.
// It stops at the first already stored checkin and reports whether anything was inserted.
func (r *Reconciler) RefreshFirstPage(ctx context.Context, user records.User) (bool, error) {
	if !user.HasCredential() {
		return false, newServiceError(opRefresh, reasonMissingCredential, ErrMissingCredential)
	}
	page, err := r.source.UserBeers(ctx, user.UserName, 0, BeerPageSize, user.AccessToken)
	if countErr := r.store.IncrementAPIRequests(ctx, user.ID, 1); countErr != nil {
		logError(r.logger, opRefresh, reasonRequestCountFail, countErr, zap.String(fieldUsername, user.UserName))
	}
	if err != nil {
		logError(r.logger, opRefresh, reasonFetchBeersFailed, err, zap.String(fieldUsername, user.UserName))
		return false, newServiceError(opRefresh, reasonFetchBeersFailed, err)
	}

	updated := false
	for _, item := range page.Items {
		created, err := applyBeer(ctx, r.store, item, user.ID)
		if err != nil {
			logError(r.logger, opRefresh, reasonBeerStoreFailed, err, zap.String(fieldUsername, user.UserName))
			return updated, newServiceError(opRefresh, reasonBeerStoreFailed, err)
		}
		if !created {
			break
		}
		updated = true
	}
	return updated, nil
}

func upsertProfile(ctx context.Context, store RecordStore, profile untappd.UserProfile) (*records.User, error) {
	user := records.User{
		ID:            profile.UID,
		UserName:      profile.UserName,
		FirstName:     profile.FirstName,
		LastName:      profile.LastName,
		Avatar:        profile.UserAvatar,
		AvatarHD:      profile.UserAvatarHD,
		TotalBadges:   profile.Stats.TotalBadges,
		TotalFriends:  profile.Stats.TotalFriends,
		TotalCheckins: profile.Stats.TotalCheckins,
		TotalBeers:    profile.Stats.TotalBeers,
	}

	existing, err := store.FindUser(ctx, profile.UID)
	if errors.Is(err, records.ErrNotFound) {
		return store.CreateUser(ctx, &user)
	}
	if err != nil {
		return nil, err
	}
	if err := store.UpdateUserProfile(ctx, &user); err != nil {
		return nil, err
	}
	user.AccessToken = existing.AccessToken
	user.APIRequestCount = existing.APIRequestCount
	user.LastUpdate = existing.LastUpdate
	return &user, nil
}

// applyBeer finds or creates the brewery, beer and checkin of item. created is false when the
// checkin was already stored.
func applyBeer(ctx context.Context, store RecordStore, item untappd.BeerItem, userID int64) (bool, error) {
	brewery, err := store.InsertBrewery(ctx, &records.Brewery{
		ID:        item.Brewery.BreweryID,
		Name:      item.Brewery.BreweryName,
		Label:     item.Brewery.BreweryLabel,
		Country:   item.Brewery.CountryName,
		City:      item.Brewery.Location.City,
		State:     item.Brewery.Location.State,
		Latitude:  item.Brewery.Location.Lat,
		Longitude: item.Brewery.Location.Lng,
	})
	if err != nil {
		return false, err
	}
	beer, err := store.InsertBeer(ctx, &records.Beer{
		ID:        item.Beer.BID,
		Name:      item.Beer.BeerName,
		Label:     item.Beer.BeerLabel,
		Rating:    item.Beer.RatingScore,
		ABV:       item.Beer.BeerABV,
		Style:     item.Beer.BeerStyle,
		BreweryID: brewery.ID,
	})
	if err != nil {
		return false, err
	}
	return store.InsertCheckin(ctx, &records.Checkin{
		ID:       item.FirstCheckinID,
		BeerID:   beer.ID,
		UserID:   userID,
		Count:    item.Count,
		Rating:   item.RatingScore,
		FirstHad: item.FirstHad,
	})
}

func applyFriend(ctx context.Context, store RecordStore, item untappd.FriendItem, userID int64) error {
	friend, err := store.FindUser(ctx, item.User.UID)
	if errors.Is(err, records.ErrNotFound) {
		friend, err = store.CreateUser(ctx, &records.User{
			ID:        item.User.UID,
			UserName:  item.User.UserName,
			FirstName: item.User.FirstName,
			LastName:  initial(item.User.LastName),
			Avatar:    item.User.UserAvatar,
			AvatarHD:  item.User.UserAvatar,
		})
	}
	if err != nil {
		return err
	}
	_, err = store.InsertFriendship(ctx, item.FriendshipHash, userID, friend.ID)
	return err
}

func initial(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(name)
	return string(r)
}
