package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ourea-as/meadstats-api/internal/stats"
)

const (
	messageUserNotFound    = "User does not exist"
	messageCountryNotFound = "Country not found"
	messageInvalidIDs      = "Invalid id list"
	messageInternal        = "Internal error"
)

func (h *httpHandler) respondQueryError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, stats.ErrUserNotFound):
		h.logger.Info("request for non-existing user", zap.String("username", c.Param("username")))
		respondFail(c, http.StatusNotFound, messageUserNotFound)
	case errors.Is(err, stats.ErrCountryNotFound):
		respondFail(c, http.StatusNotFound, messageCountryNotFound)
	default:
		h.logger.Error("query failed", zap.String("operation", operation), zap.Error(err))
		respondFail(c, http.StatusInternalServerError, messageInternal)
	}
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	user, err := h.stats.Profile(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondQueryError(c, "profile", err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"user": newUserPayload(*user)})
}

func (h *httpHandler) handleCheckins(c *gin.Context) {
	checkins, err := h.stats.Checkins(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondQueryError(c, "checkins", err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"checkins": newCheckinPayloads(checkins)})
}

func (h *httpHandler) handleFriends(c *gin.Context) {
	friends, err := h.stats.Friends(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondQueryError(c, "friends", err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"friends": newUserPayloads(friends)})
}

func (h *httpHandler) handleCountries(c *gin.Context) {
	countries, err := h.stats.Countries(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondQueryError(c, "countries", err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"countries": newCountryPayloads(countries)})
}

func (h *httpHandler) handleCountry(c *gin.Context) {
	report, err := h.stats.Country(c.Request.Context(), c.Param("username"), c.Param("code"))
	if err != nil {
		h.respondQueryError(c, "country", err)
		return
	}
	respondSuccess(c, http.StatusOK, newCountryDetailPayload(report))
}

func (h *httpHandler) breakdownHandler(dimension stats.Dimension, listName, keyName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		groups, err := h.stats.Breakdown(c.Request.Context(), c.Param("username"), dimension)
		if err != nil {
			h.respondQueryError(c, string(dimension), err)
			return
		}
		respondSuccess(c, http.StatusOK, gin.H{listName: newGroupPayloads(keyName, groups)})
	}
}

func (h *httpHandler) handleGraph(c *gin.Context) {
	points, err := h.stats.Timeline(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.respondQueryError(c, "graph", err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"dates": newTimelinePayloads(points)})
}

func (h *httpHandler) handleTastingUsers(c *gin.Context) {
	ids, ok := parseIDList(c, "users")
	if !ok {
		return
	}
	if len(ids) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": statusSuccess})
		return
	}
	users, err := h.stats.TastingUsers(c.Request.Context(), ids)
	if err != nil {
		h.respondQueryError(c, "tasting_users", err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"users": newUserPayloads(users)})
}

func (h *httpHandler) handleTastingBeers(c *gin.Context) {
	ids, ok := parseIDList(c, "beers")
	if !ok {
		return
	}
	if len(ids) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": statusSuccess})
		return
	}
	beers, err := h.stats.TastingBeers(c.Request.Context(), ids)
	if err != nil {
		h.respondQueryError(c, "tasting_beers", err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"beers": newBeerPayloads(beers)})
}

func (h *httpHandler) handleTastingCheckins(c *gin.Context) {
	userIDs, ok := parseIDList(c, "users")
	if !ok {
		return
	}
	beerIDs, ok := parseIDList(c, "beers")
	if !ok {
		return
	}
	if len(userIDs) == 0 || len(beerIDs) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": statusSuccess})
		return
	}
	checkins, err := h.stats.TastingCheckins(c.Request.Context(), userIDs, beerIDs)
	if err != nil {
		h.respondQueryError(c, "tasting_checkins", err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"checkins": newCheckinPayloads(checkins)})
}

// parseIDList reads a comma separated list of numeric ids from the query parameter name.
// On failure the request is answered and ok is false.
func parseIDList(c *gin.Context, name string) ([]int64, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			respondFail(c, http.StatusBadRequest, messageInvalidIDs)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
