// Package records persists users, breweries, beers, checkins and friendships.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryID               = "id = ?"
	queryIDIn             = "id IN ?"
	queryUserNameFold     = "LOWER(user_name) = LOWER(?)"
	queryFriendshipPair   = "(user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)"
	queryFriendshipMember = "user1_id = ? OR user2_id = ?"
	queryUserID           = "user_id = ?"
	orderFirstHadAsc      = "first_had ASC, id ASC"
	preloadBeerBrewery    = "Beer.Brewery"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("records: not found")
	// ErrMissingDatabase indicates the store was built without a database handle.
	ErrMissingDatabase = errors.New("records: database handle is required")
)

// Store is the gorm-backed record store shared by queries and sync runs.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, ErrMissingDatabase
	}
	return &Store{db: db}, nil
}

func wrap(operation string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("records.%s: %w", operation, ErrNotFound)
	}
	return fmt.Errorf("records.%s: %w", operation, err)
}

// FindUser loads a user by Untappd id.
func (s *Store) FindUser(ctx context.Context, id int64) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where(queryID, id).Take(&user).Error; err != nil {
		return nil, wrap("find_user", err)
	}
	return &user, nil
}

// FindUserByName loads a user by user name, ignoring case.
func (s *Store) FindUserByName(ctx context.Context, name string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where(queryUserNameFold, name).Take(&user).Error; err != nil {
		return nil, wrap("find_user_by_name", err)
	}
	return &user, nil
}

// CreateUser inserts the user unless one with the same id exists; the stored row is returned.
func (s *Store) CreateUser(ctx context.Context, user *User) (*User, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(user)
	if result.Error != nil {
		return nil, wrap("create_user", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.FindUser(ctx, user.ID)
	}
	return user, nil
}

// UpdateUserProfile overwrites the mutable profile fields and counters.
func (s *Store) UpdateUserProfile(ctx context.Context, user *User) error {
	err := s.db.WithContext(ctx).Model(&User{}).Where(queryID, user.ID).Updates(map[string]any{
		"first_name":     user.FirstName,
		"last_name":      user.LastName,
		"avatar":         user.Avatar,
		"avatar_hd":      user.AvatarHD,
		"total_badges":   user.TotalBadges,
		"total_friends":  user.TotalFriends,
		"total_checkins": user.TotalCheckins,
		"total_beers":    user.TotalBeers,
	}).Error
	if err != nil {
		return wrap("update_user_profile", err)
	}
	return nil
}

// UpdateAccessToken stores a new Untappd credential for the user.
func (s *Store) UpdateAccessToken(ctx context.Context, userID int64, token string) error {
	err := s.db.WithContext(ctx).Model(&User{}).Where(queryID, userID).Update("access_token", token).Error
	if err != nil {
		return wrap("update_access_token", err)
	}
	return nil
}

// TouchLastUpdate records the completion time of a full sync.
func (s *Store) TouchLastUpdate(ctx context.Context, userID int64, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&User{}).Where(queryID, userID).Update("last_update", at).Error
	if err != nil {
		return wrap("touch_last_update", err)
	}
	return nil
}

// IncrementAPIRequests adds delta to the user's request counter.
func (s *Store) IncrementAPIRequests(ctx context.Context, userID int64, delta int) error {
	if delta == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&User{}).Where(queryID, userID).
		Update("api_request_count", gorm.Expr("api_request_count + ?", delta)).Error
	if err != nil {
		return wrap("increment_api_requests", err)
	}
	return nil
}

// FindBrewery loads a brewery by id.
func (s *Store) FindBrewery(ctx context.Context, id int64) (*Brewery, error) {
	var brewery Brewery
	if err := s.db.WithContext(ctx).Where(queryID, id).Take(&brewery).Error; err != nil {
		return nil, wrap("find_brewery", err)
	}
	return &brewery, nil
}

// InsertBrewery creates the brewery or returns the one already stored under its id.
func (s *Store) InsertBrewery(ctx context.Context, brewery *Brewery) (*Brewery, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(brewery)
	if result.Error != nil {
		return nil, wrap("insert_brewery", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.FindBrewery(ctx, brewery.ID)
	}
	return brewery, nil
}

// FindBeer loads a beer by id.
func (s *Store) FindBeer(ctx context.Context, id int64) (*Beer, error) {
	var beer Beer
	if err := s.db.WithContext(ctx).Where(queryID, id).Take(&beer).Error; err != nil {
		return nil, wrap("find_beer", err)
	}
	return &beer, nil
}

// InsertBeer creates the beer or returns the one already stored under its id.
func (s *Store) InsertBeer(ctx context.Context, beer *Beer) (*Beer, error) {
	result := s.db.WithContext(ctx).Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).Create(beer)
	if result.Error != nil {
		return nil, wrap("insert_beer", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.FindBeer(ctx, beer.ID)
	}
	return beer, nil
}

// FindCheckin loads a checkin by id.
func (s *Store) FindCheckin(ctx context.Context, id int64) (*Checkin, error) {
	var checkin Checkin
	if err := s.db.WithContext(ctx).Where(queryID, id).Take(&checkin).Error; err != nil {
		return nil, wrap("find_checkin", err)
	}
	return &checkin, nil
}

// InsertCheckin creates the checkin; created is false when the id was already stored.
func (s *Store) InsertCheckin(ctx context.Context, checkin *Checkin) (bool, error) {
	result := s.db.WithContext(ctx).Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).Create(checkin)
	if result.Error != nil {
		return false, wrap("insert_checkin", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FindFriendshipBetween returns the friendship linking a and b in either order.
func (s *Store) FindFriendshipBetween(ctx context.Context, a, b int64) (*Friendship, error) {
	var friendship Friendship
	err := s.db.WithContext(ctx).Where(queryFriendshipPair, a, b, b, a).Take(&friendship).Error
	if err != nil {
		return nil, wrap("find_friendship_between", err)
	}
	return &friendship, nil
}

// InsertFriendship stores a friendship unless the pair (in either order) or the hash exists.
// The stored row is returned; the first write for a pair wins.
func (s *Store) InsertFriendship(ctx context.Context, hash string, a, b int64) (*Friendship, error) {
	var stored Friendship
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookupErr := tx.Where(queryFriendshipPair, a, b, b, a).Take(&stored).Error
		if lookupErr == nil {
			return nil
		}
		if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return lookupErr
		}
		stored = Friendship{Hash: hash, User1ID: a, User2ID: b}
		result := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&stored)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return tx.Where("hash = ?", hash).Take(&stored).Error
		}
		return nil
	})
	if err != nil {
		return nil, wrap("insert_friendship", err)
	}
	return &stored, nil
}

// CheckinsForUser returns a snapshot of the user's checkins with beer and brewery preloaded,
// ordered by first_had ascending.
func (s *Store) CheckinsForUser(ctx context.Context, userID int64) ([]Checkin, error) {
	var checkins []Checkin
	err := s.db.WithContext(ctx).
		Preload(preloadBeerBrewery).
		Where(queryUserID, userID).
		Order(orderFirstHadAsc).
		Find(&checkins).Error
	if err != nil {
		return nil, wrap("checkins_for_user", err)
	}
	return checkins, nil
}

// FriendsOf returns the users on the other side of every friendship involving userID.
func (s *Store) FriendsOf(ctx context.Context, userID int64) ([]User, error) {
	var friendships []Friendship
	err := s.db.WithContext(ctx).
		Preload("User1").
		Preload("User2").
		Where(queryFriendshipMember, userID, userID).
		Order("hash ASC").
		Find(&friendships).Error
	if err != nil {
		return nil, wrap("friends_of", err)
	}
	friends := make([]User, 0, len(friendships))
	for _, friendship := range friendships {
		other := friendship.User2
		if friendship.User1ID != userID {
			other = friendship.User1
		}
		if other != nil {
			friends = append(friends, *other)
		}
	}
	return friends, nil
}

// UsersByIDs loads the users with the given ids.
func (s *Store) UsersByIDs(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []User
	if err := s.db.WithContext(ctx).Where(queryIDIn, ids).Order("id ASC").Find(&users).Error; err != nil {
		return nil, wrap("users_by_ids", err)
	}
	return users, nil
}

// BeersByIDs loads the beers with the given ids and their breweries.
func (s *Store) BeersByIDs(ctx context.Context, ids []int64) ([]Beer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var beers []Beer
	if err := s.db.WithContext(ctx).Preload("Brewery").Where(queryIDIn, ids).Order("id ASC").Find(&beers).Error; err != nil {
		return nil, wrap("beers_by_ids", err)
	}
	return beers, nil
}

// RecentCheckins returns checkins of the given beers by the given users first had after since.
func (s *Store) RecentCheckins(ctx context.Context, userIDs, beerIDs []int64, since time.Time) ([]Checkin, error) {
	if len(userIDs) == 0 || len(beerIDs) == 0 {
		return nil, nil
	}
	var checkins []Checkin
	err := s.db.WithContext(ctx).
		Preload(preloadBeerBrewery).
		Where("beer_id IN ?", beerIDs).
		Where("user_id IN ?", userIDs).
		Where("first_had > ?", since).
		Order(orderFirstHadAsc).
		Find(&checkins).Error
	if err != nil {
		return nil, wrap("recent_checkins", err)
	}
	return checkins, nil
}
