package aggregate

import (
	"strings"
	"time"

	"github.com/ourea-as/meadstats-api/internal/records"
)

// CountryResolver maps a brewery country name to a lowercase alpha-2 code, "" when unknown.
type CountryResolver interface {
	Code(country string) string
}

// CountryGroup summarises the checkins of breweries from one country.
type CountryGroup struct {
	Name          string
	Code          string
	Count         int
	AverageRating float64
}

// Countries groups checkins by brewery country name. Codes are reported in upper case.
func Countries(checkins []records.Checkin, resolver CountryResolver) []CountryGroup {
	buckets := Fold(checkins, breweryCountry, func(members []records.Checkin, checkin records.Checkin) []records.Checkin {
		return append(members, checkin)
	})

	groups := make([]CountryGroup, 0, len(buckets))
	for _, bucket := range buckets {
		ratings := make([]float64, 0, len(bucket.Acc))
		for _, member := range bucket.Acc {
			ratings = append(ratings, member.Rating)
		}
		groups = append(groups, CountryGroup{
			Name:          bucket.Key,
			Code:          strings.ToUpper(resolver.Code(bucket.Key)),
			Count:         len(bucket.Acc),
			AverageRating: SafeMean(ratings),
		})
	}
	return groups
}

// Location is the map position of a brewery.
type Location struct {
	Lat   float64
	Lon   float64
	State string
}

// RatedBeer is a beer annotated with the user's own checkin data.
type RatedBeer struct {
	Beer       records.Beer
	UserRating float64
	FirstHad   time.Time
	Count      int
}

// BreweryGroup summarises a user's checkins at one brewery.
type BreweryGroup struct {
	ID            int64
	Name          string
	Label         string
	Location      Location
	Count         int
	Beers         []RatedBeer
	AverageRating float64
}

// CountryDetail is the per-brewery breakdown for one country.
type CountryDetail struct {
	Code          string
	Count         int
	AverageRating float64
	Breweries     []BreweryGroup
}

type breweryAccumulator struct {
	brewery records.Brewery
	beers   []RatedBeer
	ratings []float64
}

// DetailForCountry filters checkins to those whose brewery resolves to code and groups them by
// brewery in first-seen order.
func DetailForCountry(checkins []records.Checkin, code string, resolver CountryResolver) CountryDetail {
	code = strings.ToLower(strings.TrimSpace(code))
	codes := make(map[string]string)
	resolve := func(name string) string {
		if resolved, ok := codes[name]; ok {
			return resolved
		}
		resolved := resolver.Code(name)
		codes[name] = resolved
		return resolved
	}

	matching := make([]records.Checkin, 0)
	ratings := make([]float64, 0)
	for _, checkin := range checkins {
		if resolve(breweryCountry(checkin)) != code {
			continue
		}
		matching = append(matching, checkin)
		ratings = append(ratings, checkin.Rating)
	}

	buckets := Fold(matching, func(c records.Checkin) int64 { return breweryOf(c).ID },
		func(acc breweryAccumulator, checkin records.Checkin) breweryAccumulator {
			if len(acc.beers) == 0 {
				acc.brewery = breweryOf(checkin)
			}
			beer := records.Beer{}
			if checkin.Beer != nil {
				beer = *checkin.Beer
				beer.Brewery = nil
			}
			acc.beers = append(acc.beers, RatedBeer{
				Beer:       beer,
				UserRating: checkin.Rating,
				FirstHad:   naive(checkin.FirstHad),
				Count:      checkin.Count,
			})
			acc.ratings = append(acc.ratings, checkin.Rating)
			return acc
		})

	breweries := make([]BreweryGroup, 0, len(buckets))
	for _, bucket := range buckets {
		brewery := bucket.Acc.brewery
		breweries = append(breweries, BreweryGroup{
			ID:    brewery.ID,
			Name:  brewery.Name,
			Label: brewery.Label,
			Location: Location{
				Lat:   brewery.Latitude,
				Lon:   brewery.Longitude,
				State: brewery.State,
			},
			Count:         len(bucket.Acc.beers),
			Beers:         bucket.Acc.beers,
			AverageRating: SafeMean(bucket.Acc.ratings),
		})
	}

	return CountryDetail{
		Code:          code,
		Count:         len(matching),
		AverageRating: SafeMean(ratings),
		Breweries:     breweries,
	}
}

func breweryOf(checkin records.Checkin) records.Brewery {
	if checkin.Beer == nil || checkin.Beer.Brewery == nil {
		return records.Brewery{}
	}
	return *checkin.Beer.Brewery
}

func breweryCountry(checkin records.Checkin) string {
	return breweryOf(checkin).Country
}
