package server

import (
	"time"

	"github.com/ourea-as/meadstats-api/internal/aggregate"
	"github.com/ourea-as/meadstats-api/internal/records"
	"github.com/ourea-as/meadstats-api/internal/stats"
)

const naiveTimestampLayout = "2006-01-02T15:04:05"

type userPayload struct {
	ID            int64   `json:"id"`
	UserName      string  `json:"user_name"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	Avatar        string  `json:"avatar"`
	AvatarHD      string  `json:"avatar_hd"`
	TotalBadges   int     `json:"total_badges"`
	TotalFriends  int     `json:"total_friends"`
	TotalCheckins int     `json:"total_checkins"`
	TotalBeers    int     `json:"total_beers"`
	LastUpdate    *string `json:"last_update"`
}

type breweryPayload struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Label     string  `json:"label"`
	Country   string  `json:"country"`
	City      string  `json:"city"`
	State     string  `json:"state"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type beerPayload struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Label   string          `json:"label"`
	Rating  float64         `json:"rating"`
	ABV     float64         `json:"abv"`
	Style   string          `json:"style"`
	Brewery *breweryPayload `json:"brewery,omitempty"`
}

type checkinPayload struct {
	ID       int64        `json:"id"`
	Beer     *beerPayload `json:"beer,omitempty"`
	User     int64        `json:"user"`
	Count    int          `json:"count"`
	Rating   float64      `json:"rating"`
	FirstHad string       `json:"first_had"`
}

type countryPayload struct {
	Name          string  `json:"name"`
	Code          string  `json:"code"`
	Count         int     `json:"count"`
	AverageRating float64 `json:"average_rating"`
}

type locationPayload struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	State string  `json:"state"`
}

type ratedBeerPayload struct {
	beerPayload
	UserRating float64 `json:"userRating"`
	FirstHad   string  `json:"firstHad"`
	Count      int     `json:"count"`
}

type breweryGroupPayload struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	Label         string             `json:"label"`
	Location      locationPayload    `json:"location"`
	Count         int                `json:"count"`
	Beers         []ratedBeerPayload `json:"beers"`
	AverageRating float64            `json:"averageRating"`
}

type countryDetailPayload struct {
	Count         int                   `json:"count"`
	Code          string                `json:"code"`
	Name          string                `json:"name"`
	AverageRating float64               `json:"averageRating"`
	Breweries     []breweryGroupPayload `json:"breweries"`
}

type timelinePayload struct {
	Date     string `json:"date"`
	Count    int    `json:"count"`
	CountDay int    `json:"countDay"`
}

type runPayload struct {
	RunID string `json:"runId"`
}

type tastingUpdatePayload struct {
	Updated bool     `json:"updated"`
	Missing []string `json:"missing"`
}

type progressEventPayload struct {
	RunID     string `json:"runId"`
	Username  string `json:"username"`
	Progress  int    `json:"progress"`
	Total     int    `json:"total"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

type finishedEventPayload struct {
	RunID     string `json:"runId"`
	Username  string `json:"username"`
	Finished  bool   `json:"finished"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func formatNaive(value time.Time) string {
	return value.UTC().Format(naiveTimestampLayout)
}

func newUserPayload(user records.User) userPayload {
	payload := userPayload{
		ID:            user.ID,
		UserName:      user.UserName,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Avatar:        user.Avatar,
		AvatarHD:      user.AvatarHD,
		TotalBadges:   user.TotalBadges,
		TotalFriends:  user.TotalFriends,
		TotalCheckins: user.TotalCheckins,
		TotalBeers:    user.TotalBeers,
	}
	if user.LastUpdate != nil {
		formatted := formatNaive(*user.LastUpdate)
		payload.LastUpdate = &formatted
	}
	return payload
}

func newUserPayloads(users []records.User) []userPayload {
	payloads := make([]userPayload, 0, len(users))
	for _, user := range users {
		payloads = append(payloads, newUserPayload(user))
	}
	return payloads
}

func newBeerPayload(beer records.Beer) beerPayload {
	payload := beerPayload{
		ID:     beer.ID,
		Name:   beer.Name,
		Label:  beer.Label,
		Rating: beer.Rating,
		ABV:    beer.ABV,
		Style:  beer.Style,
	}
	if beer.Brewery != nil {
		payload.Brewery = &breweryPayload{
			ID:        beer.Brewery.ID,
			Name:      beer.Brewery.Name,
			Label:     beer.Brewery.Label,
			Country:   beer.Brewery.Country,
			City:      beer.Brewery.City,
			State:     beer.Brewery.State,
			Latitude:  beer.Brewery.Latitude,
			Longitude: beer.Brewery.Longitude,
		}
	}
	return payload
}

func newBeerPayloads(beers []records.Beer) []beerPayload {
	payloads := make([]beerPayload, 0, len(beers))
	for _, beer := range beers {
		payloads = append(payloads, newBeerPayload(beer))
	}
	return payloads
}

func newCheckinPayloads(checkins []records.Checkin) []checkinPayload {
	payloads := make([]checkinPayload, 0, len(checkins))
	for _, checkin := range checkins {
		payload := checkinPayload{
			ID:       checkin.ID,
			User:     checkin.UserID,
			Count:    checkin.Count,
			Rating:   checkin.Rating,
			FirstHad: formatNaive(checkin.FirstHad),
		}
		if checkin.Beer != nil {
			beer := newBeerPayload(*checkin.Beer)
			payload.Beer = &beer
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

func newCountryPayloads(groups []aggregate.CountryGroup) []countryPayload {
	payloads := make([]countryPayload, 0, len(groups))
	for _, group := range groups {
		payloads = append(payloads, countryPayload{
			Name:          group.Name,
			Code:          group.Code,
			Count:         group.Count,
			AverageRating: group.AverageRating,
		})
	}
	return payloads
}

func newCountryDetailPayload(report stats.CountryReport) countryDetailPayload {
	breweries := make([]breweryGroupPayload, 0, len(report.Breweries))
	for _, brewery := range report.Breweries {
		beers := make([]ratedBeerPayload, 0, len(brewery.Beers))
		for _, rated := range brewery.Beers {
			beers = append(beers, ratedBeerPayload{
				beerPayload: newBeerPayload(rated.Beer),
				UserRating:  rated.UserRating,
				FirstHad:    formatNaive(rated.FirstHad),
				Count:       rated.Count,
			})
		}
		breweries = append(breweries, breweryGroupPayload{
			ID:    brewery.ID,
			Name:  brewery.Name,
			Label: brewery.Label,
			Location: locationPayload{
				Lat:   brewery.Location.Lat,
				Lon:   brewery.Location.Lon,
				State: brewery.Location.State,
			},
			Count:         brewery.Count,
			Beers:         beers,
			AverageRating: brewery.AverageRating,
		})
	}
	return countryDetailPayload{
		Count:         report.Count,
		Code:          report.Code,
		Name:          report.Name,
		AverageRating: report.AverageRating,
		Breweries:     breweries,
	}
}

// newGroupPayloads renders calendar groups keyed by the dimension's name, e.g. {"weekday":1,...}.
func newGroupPayloads(keyName string, groups []aggregate.Group[int]) []map[string]any {
	payloads := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		payloads = append(payloads, map[string]any{
			keyName:         group.Key,
			"count":         group.Count,
			"averageRating": group.AverageRating,
		})
	}
	return payloads
}

func newTimelinePayloads(points []aggregate.TimelinePoint) []timelinePayload {
	payloads := make([]timelinePayload, 0, len(points))
	for _, point := range points {
		payloads = append(payloads, timelinePayload{Date: point.Date, Count: point.Count, CountDay: point.CountDay})
	}
	return payloads
}

func newRealtimeEventPayload(message RealtimeMessage) any {
	timestamp := message.Timestamp.UTC().Format(time.RFC3339)
	if message.EventType == RealtimeEventFinished {
		return finishedEventPayload{
			RunID:     message.RunID,
			Username:  message.Username,
			Finished:  true,
			State:     string(message.State),
			Timestamp: timestamp,
			Source:    realtimeSourceBackend,
		}
	}
	return progressEventPayload{
		RunID:     message.RunID,
		Username:  message.Username,
		Progress:  message.Offset,
		Total:     message.Total,
		Action:    string(message.Action),
		Timestamp: timestamp,
		Source:    realtimeSourceBackend,
	}
}
