// Package stats answers read-only statistics queries over stored checkins.
package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ourea-as/meadstats-api/internal/aggregate"
	"github.com/ourea-as/meadstats-api/internal/records"
)

const tastingWindow = 24 * time.Hour

var (
	// ErrUserNotFound indicates the requested user name is unknown.
	ErrUserNotFound = errors.New("stats: user does not exist")
	// ErrCountryNotFound indicates the requested country code is not an ISO 3166 alpha-2 code.
	ErrCountryNotFound = errors.New("stats: country not found")

	errMissingStore    = errors.New("record store is required")
	errMissingResolver = errors.New("country resolver is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew      = "stats.service.new"
	opLoadUser        = "stats.load_user"
	opLoadCheckins    = "stats.load_checkins"
	opLoadFriends     = "stats.load_friends"
	opTastingUsers    = "stats.tasting_users"
	opTastingBeers    = "stats.tasting_beers"
	opTastingCheckins = "stats.tasting_checkins"

	reasonQueryFailed = "query_failed"
)

// ServiceError carries a stable "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Store is the read surface of the record store.
type Store interface {
	FindUserByName(ctx context.Context, name string) (*records.User, error)
	CheckinsForUser(ctx context.Context, userID int64) ([]records.Checkin, error)
	FriendsOf(ctx context.Context, userID int64) ([]records.User, error)
	UsersByIDs(ctx context.Context, ids []int64) ([]records.User, error)
	BeersByIDs(ctx context.Context, ids []int64) ([]records.Beer, error)
	RecentCheckins(ctx context.Context, userIDs, beerIDs []int64, since time.Time) ([]records.Checkin, error)
}

// CountryResolver resolves country names to codes and codes back to names.
type CountryResolver interface {
	Code(country string) string
	Name(code string) (string, bool)
}

// ServiceConfig describes the dependencies of the statistics service.
type ServiceConfig struct {
	Store    Store
	Resolver CountryResolver
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service computes per-user statistics from one snapshot of checkins per call.
type Service struct {
	store    Store
	resolver CountryResolver
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService validates cfg and applies defaults.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Resolver == nil {
		return nil, newServiceError(opServiceNew, "missing_resolver", errMissingResolver)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{store: cfg.Store, resolver: cfg.Resolver, clock: clock, logger: logger}, nil
}

// Dimension selects a calendar grouping.
type Dimension string

const (
	DimensionWeekday Dimension = "weekday"
	DimensionHour    Dimension = "hour"
	DimensionMonth   Dimension = "month"
	DimensionYear    Dimension = "year"
)

// CountryReport is the detail of one country with its ISO short name.
type CountryReport struct {
	Name string
	aggregate.CountryDetail
}

// Profile returns the stored user.
func (s *Service) Profile(ctx context.Context, username string) (*records.User, error) {
	return s.loadUser(ctx, username)
}

// Checkins returns every stored checkin of the user ordered by first_had.
func (s *Service) Checkins(ctx context.Context, username string) ([]records.Checkin, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.loadCheckins(ctx, user)
}

// Friends returns the users linked to the user by a friendship.
func (s *Service) Friends(ctx context.Context, username string) ([]records.User, error) {
	user, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}
	friends, err := s.store.FriendsOf(ctx, user.ID)
	if err != nil {
		s.logError(opLoadFriends, reasonQueryFailed, err, zap.Int64("user_id", user.ID))
		return nil, newServiceError(opLoadFriends, reasonQueryFailed, err)
	}
	return friends, nil
}

// Countries groups the user's checkins by brewery country.
func (s *Service) Countries(ctx context.Context, username string) ([]aggregate.CountryGroup, error) {
	checkins, err := s.Checkins(ctx, username)
	if err != nil {
		return nil, err
	}
	return aggregate.Countries(checkins, s.resolver), nil
}

// Country reports the breweries of one country the user has checked in beers from.
func (s *Service) Country(ctx context.Context, username, code string) (CountryReport, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	name, ok := s.resolver.Name(code)
	if !ok {
		return CountryReport{}, ErrCountryNotFound
	}
	checkins, err := s.Checkins(ctx, username)
	if err != nil {
		return CountryReport{}, err
	}
	return CountryReport{
		Name:          name,
		CountryDetail: aggregate.DetailForCountry(checkins, code, s.resolver),
	}, nil
}

// Breakdown groups the user's checkins along dimension.
func (s *Service) Breakdown(ctx context.Context, username string, dimension Dimension) ([]aggregate.Group[int], error) {
	checkins, err := s.Checkins(ctx, username)
	if err != nil {
		return nil, err
	}
	switch dimension {
	case DimensionWeekday:
		return aggregate.ByWeekday(checkins), nil
	case DimensionHour:
		return aggregate.ByHour(checkins), nil
	case DimensionMonth:
		return aggregate.ByMonth(checkins), nil
	case DimensionYear:
		return aggregate.ByYear(checkins), nil
	default:
		return nil, fmt.Errorf("stats: unknown dimension %q", dimension)
	}
}

// Timeline returns the cumulative checkin count per day.
func (s *Service) Timeline(ctx context.Context, username string) ([]aggregate.TimelinePoint, error) {
	checkins, err := s.Checkins(ctx, username)
	if err != nil {
		return nil, err
	}
	return aggregate.Timeline(checkins), nil
}

// TastingUsers loads the users taking part in a tasting.
func (s *Service) TastingUsers(ctx context.Context, ids []int64) ([]records.User, error) {
	users, err := s.store.UsersByIDs(ctx, ids)
	if err != nil {
		s.logError(opTastingUsers, reasonQueryFailed, err)
		return nil, newServiceError(opTastingUsers, reasonQueryFailed, err)
	}
	return users, nil
}

// TastingBeers loads the beers served at a tasting.
func (s *Service) TastingBeers(ctx context.Context, ids []int64) ([]records.Beer, error) {
	beers, err := s.store.BeersByIDs(ctx, ids)
	if err != nil {
		s.logError(opTastingBeers, reasonQueryFailed, err)
		return nil, newServiceError(opTastingBeers, reasonQueryFailed, err)
	}
	return beers, nil
}

// TastingCheckins returns checkins of the tasting beers by the tasting users first had within the last day.
func (s *Service) TastingCheckins(ctx context.Context, userIDs, beerIDs []int64) ([]records.Checkin, error) {
	since := s.clock().UTC().Add(-tastingWindow)
	checkins, err := s.store.RecentCheckins(ctx, userIDs, beerIDs, since)
	if err != nil {
		s.logError(opTastingCheckins, reasonQueryFailed, err)
		return nil, newServiceError(opTastingCheckins, reasonQueryFailed, err)
	}
	return checkins, nil
}

func (s *Service) loadUser(ctx context.Context, username string) (*records.User, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return nil, ErrUserNotFound
	}
	user, err := s.store.FindUserByName(ctx, name)
	if errors.Is(err, records.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logError(opLoadUser, reasonQueryFailed, err, zap.String("username", name))
		return nil, newServiceError(opLoadUser, reasonQueryFailed, err)
	}
	return user, nil
}

func (s *Service) loadCheckins(ctx context.Context, user *records.User) ([]records.Checkin, error) {
	checkins, err := s.store.CheckinsForUser(ctx, user.ID)
	if err != nil {
		s.logError(opLoadCheckins, reasonQueryFailed, err, zap.Int64("user_id", user.ID))
		return nil, newServiceError(opLoadCheckins, reasonQueryFailed, err)
	}
	return checkins, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("stats service error", attrs...)
}
