package users

import (
	"strings"

	"github.com/ourea-as/meadstats-api/internal/records"
	"github.com/ourea-as/meadstats-api/internal/untappd"
)

// userFromProfile builds the stored form of an authenticated Untappd account.
func userFromProfile(profile untappd.UserProfile, accessToken string) records.User {
	return records.User{
		ID:            profile.UID,
		UserName:      normalize(profile.UserName),
		FirstName:     profile.FirstName,
		LastName:      profile.LastName,
		Avatar:        profile.UserAvatar,
		AvatarHD:      profile.UserAvatarHD,
		TotalBadges:   profile.Stats.TotalBadges,
		TotalFriends:  profile.Stats.TotalFriends,
		TotalCheckins: profile.Stats.TotalCheckins,
		TotalBeers:    profile.Stats.TotalBeers,
		AccessToken:   accessToken,
	}
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
