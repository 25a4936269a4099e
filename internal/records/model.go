package records

import "time"

// User mirrors an Untappd account known to the service.
type User struct {
	ID              int64      `gorm:"column:id;primaryKey;autoIncrement:false"`
	UserName        string     `gorm:"column:user_name;size:80;uniqueIndex"`
	FirstName       string     `gorm:"column:first_name;size:80"`
	LastName        string     `gorm:"column:last_name;size:80"`
	Avatar          string     `gorm:"column:avatar;size:200"`
	AvatarHD        string     `gorm:"column:avatar_hd;size:200"`
	TotalBadges     int        `gorm:"column:total_badges;not null;default:0"`
	TotalFriends    int        `gorm:"column:total_friends;not null;default:0"`
	TotalCheckins   int        `gorm:"column:total_checkins;not null;default:0"`
	TotalBeers      int        `gorm:"column:total_beers;not null;default:0"`
	AccessToken     string     `gorm:"column:access_token;size:200;not null;default:''"`
	APIRequestCount int        `gorm:"column:api_request_count;not null;default:0"`
	LastUpdate      *time.Time `gorm:"column:last_update"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// HasCredential reports whether the user authorised the service against Untappd.
func (u User) HasCredential() bool {
	return u.AccessToken != ""
}

// Brewery is created lazily the first time a checkin references it.
type Brewery struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name      string  `gorm:"column:name;size:80;not null"`
	Label     string  `gorm:"column:label;size:200"`
	Country   string  `gorm:"column:country;size:80"`
	City      string  `gorm:"column:city;size:80"`
	State     string  `gorm:"column:state;size:80"`
	Latitude  float64 `gorm:"column:latitude"`
	Longitude float64 `gorm:"column:longitude"`
}

// TableName provides the explicit table binding for GORM.
func (Brewery) TableName() string {
	return "breweries"
}

// Beer belongs to exactly one brewery.
type Beer struct {
	ID        int64    `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name      string   `gorm:"column:name;size:200"`
	Label     string   `gorm:"column:label;size:200"`
	Rating    float64  `gorm:"column:rating"`
	ABV       float64  `gorm:"column:abv"`
	Style     string   `gorm:"column:style;size:80"`
	BreweryID int64    `gorm:"column:brewery_id;not null;index"`
	Brewery   *Brewery `gorm:"foreignKey:BreweryID"`
}

// TableName provides the explicit table binding for GORM.
func (Beer) TableName() string {
	return "beers"
}

// Checkin is the first recorded checkin of a beer by a user.
// FirstHad is a naive local timestamp stored with a UTC location.
type Checkin struct {
	ID       int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	BeerID   int64     `gorm:"column:beer_id;not null;index"`
	Beer     *Beer     `gorm:"foreignKey:BeerID"`
	UserID   int64     `gorm:"column:user_id;not null;index:idx_checkins_user_first_had,priority:1"`
	Count    int       `gorm:"column:count;not null;default:0"`
	Rating   float64   `gorm:"column:rating;not null;default:0"`
	FirstHad time.Time `gorm:"column:first_had;index:idx_checkins_user_first_had,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Checkin) TableName() string {
	return "checkins"
}

// Friendship is an undirected relation stored once per pair of users.
type Friendship struct {
	Hash    string `gorm:"column:hash;primaryKey;size:80"`
	User1ID int64  `gorm:"column:user1_id;not null;index"`
	User1   *User  `gorm:"foreignKey:User1ID"`
	User2ID int64  `gorm:"column:user2_id;not null;index"`
	User2   *User  `gorm:"foreignKey:User2ID"`
}

// TableName provides the explicit table binding for GORM.
func (Friendship) TableName() string {
	return "friendships"
}

// Models lists every persisted model for auto-migration.
func Models() []any {
	return []any{&User{}, &Brewery{}, &Beer{}, &Checkin{}, &Friendship{}}
}
