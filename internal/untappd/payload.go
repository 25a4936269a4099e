package untappd

import (
	"fmt"
	"strings"
	"time"
)

// FirstHadLayout is the timestamp format Untappd uses for first_had, e.g. "Sat, 04 Aug 2018 14:44:31 -0400".
const FirstHadLayout = time.RFC1123Z

// Stats are the counters reported on a user profile.
type Stats struct {
	TotalBadges   int `json:"total_badges"`
	TotalFriends  int `json:"total_friends"`
	TotalCheckins int `json:"total_checkins"`
	TotalBeers    int `json:"total_beers"`
}

// UserProfile is the user object returned by user/info.
type UserProfile struct {
	UID          int64  `json:"uid"`
	UserName     string `json:"user_name"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	UserAvatar   string `json:"user_avatar"`
	UserAvatarHD string `json:"user_avatar_hd"`
	Stats        Stats  `json:"stats"`
}

func (p UserProfile) validate() error {
	if p.UID == 0 {
		return malformed("user.uid")
	}
	if strings.TrimSpace(p.UserName) == "" {
		return malformed("user.user_name")
	}
	return nil
}

// BeerDetails is the beer object nested in a user/beers item.
type BeerDetails struct {
	BID         int64   `json:"bid"`
	BeerName    string  `json:"beer_name"`
	BeerLabel   string  `json:"beer_label"`
	RatingScore float64 `json:"rating_score"`
	BeerABV     float64 `json:"beer_abv"`
	BeerStyle   string  `json:"beer_style"`
}

// BreweryLocation is the location block of a brewery.
type BreweryLocation struct {
	City  string  `json:"brewery_city"`
	State string  `json:"brewery_state"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

// BreweryDetails is the brewery object nested in a user/beers item.
type BreweryDetails struct {
	BreweryID    int64           `json:"brewery_id"`
	BreweryName  string          `json:"brewery_name"`
	BreweryLabel string          `json:"brewery_label"`
	CountryName  string          `json:"country_name"`
	Location     BreweryLocation `json:"location"`
}

// BeerItem is one distinct beer in a user's history together with the first checkin of it.
type BeerItem struct {
	FirstCheckinID int64          `json:"first_checkin_id"`
	FirstHadRaw    string         `json:"first_had"`
	Count          int            `json:"count"`
	RatingScore    float64        `json:"rating_score"`
	Beer           BeerDetails    `json:"beer"`
	Brewery        BreweryDetails `json:"brewery"`

	// FirstHad is FirstHadRaw with its UTC offset discarded.
	FirstHad time.Time `json:"-"`
}

func (i *BeerItem) normalize(position int) error {
	if i.FirstCheckinID == 0 {
		return malformed(fmt.Sprintf("beers.items[%d].first_checkin_id", position))
	}
	if i.Beer.BID == 0 {
		return malformed(fmt.Sprintf("beers.items[%d].beer.bid", position))
	}
	if i.Brewery.BreweryID == 0 {
		return malformed(fmt.Sprintf("beers.items[%d].brewery.brewery_id", position))
	}
	firstHad, err := ParseFirstHad(i.FirstHadRaw)
	if err != nil {
		return fmt.Errorf("%w: beers.items[%d].first_had: %v", ErrMalformedPayload, position, err)
	}
	i.FirstHad = firstHad
	return nil
}

// BeerPage is one page of user/beers.
type BeerPage struct {
	Count int        `json:"count"`
	Items []BeerItem `json:"items"`
}

// FriendUser is the user object nested in a user/friends item.
type FriendUser struct {
	UID        int64  `json:"uid"`
	UserName   string `json:"user_name"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	UserAvatar string `json:"user_avatar"`
}

// FriendItem is one friendship of the requested user.
type FriendItem struct {
	FriendshipHash string     `json:"friendship_hash"`
	User           FriendUser `json:"user"`
}

func (i FriendItem) validate(position int) error {
	if strings.TrimSpace(i.FriendshipHash) == "" {
		return malformed(fmt.Sprintf("items[%d].friendship_hash", position))
	}
	if i.User.UID == 0 {
		return malformed(fmt.Sprintf("items[%d].user.uid", position))
	}
	if strings.TrimSpace(i.User.UserName) == "" {
		return malformed(fmt.Sprintf("items[%d].user.user_name", position))
	}
	return nil
}

// FriendPage is one page of user/friends.
type FriendPage struct {
	Count int          `json:"count"`
	Items []FriendItem `json:"items"`
}

// ParseFirstHad parses an Untappd first_had timestamp and keeps only its wall clock.
func ParseFirstHad(raw string) (time.Time, error) {
	parsed, err := time.Parse(FirstHadLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, time.UTC), nil
}

type userInfoEnvelope struct {
	Response *struct {
		User *UserProfile `json:"user"`
	} `json:"response"`
}

type userBeersEnvelope struct {
	Response *struct {
		Beers *BeerPage `json:"beers"`
	} `json:"response"`
}

type userFriendsEnvelope struct {
	Response *FriendPage `json:"response"`
}

type authorizeEnvelope struct {
	Response *struct {
		AccessToken string `json:"access_token"`
	} `json:"response"`
}
