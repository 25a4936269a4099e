package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ourea-as/meadstats-api/internal/reconcile"
	"github.com/ourea-as/meadstats-api/internal/untappd"
	"github.com/ourea-as/meadstats-api/internal/users"
)

const (
	messageMissingCode       = "Missing authorization code"
	messageUnknownSession    = "Unknown session user"
	messageMissingCredential = "No Untappd credential stored for user"
	messageRunInProgress     = "Update already running"
	messageUnauthorized      = "Unauthorized"
	messageMissingUsername   = "Username required"
)

func (h *httpHandler) handleAuthCallback(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := h.authenticator.Authenticate(ctx, c.Query("code"))
	if err != nil {
		if errors.Is(err, users.ErrMissingCode) {
			respondFail(c, http.StatusBadRequest, messageMissingCode)
			return
		}
		code := http.StatusInternalServerError
		var statusErr *untappd.StatusError
		if errors.As(err, &statusErr) {
			code = statusErr.StatusCode
		}
		h.logger.Error("authentication failed", zap.Int("status_code", code), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": statusError, "code": code})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(ctx, user.UserName)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": statusError, "code": http.StatusInternalServerError})
		return
	}

	secure := strings.HasPrefix(h.appURL, "https://")
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, token, int(expiresIn), "/", h.cookieDomain, secure, false)
	c.Redirect(http.StatusMovedPermanently, h.appURL)
}

func (h *httpHandler) handleStartSync(c *gin.Context) {
	ctx := c.Request.Context()
	caller, err := h.authenticator.ResolveSessionUser(ctx, c.GetString(userNameContextKey))
	if err != nil {
		if errors.Is(err, users.ErrUnknownUser) {
			respondFail(c, http.StatusUnauthorized, messageUnknownSession)
			return
		}
		h.logger.Error("failed to resolve session user", zap.Error(err))
		respondFail(c, http.StatusInternalServerError, messageInternal)
		return
	}
	if !caller.HasCredential() {
		respondFail(c, http.StatusForbidden, messageMissingCredential)
		return
	}

	username := strings.TrimSpace(c.Param("username"))
	run, err := h.syncs.Start(ctx, reconcile.Request{
		Username:    username,
		AccessToken: caller.AccessToken,
		RequesterID: caller.ID,
		Requester:   caller.UserName,
	})
	switch {
	case err == nil:
	case errors.Is(err, reconcile.ErrRunInProgress):
		respondFail(c, http.StatusConflict, messageRunInProgress)
		return
	case errors.Is(err, reconcile.ErrMissingUsername):
		respondFail(c, http.StatusBadRequest, messageMissingUsername)
		return
	default:
		h.logger.Error("failed to start sync run", zap.String("username", username), zap.Error(err))
		respondFail(c, http.StatusInternalServerError, messageInternal)
		return
	}

	h.logger.Info("sync run accepted",
		zap.String("run_id", run.ID),
		zap.String("username", username),
		zap.String("requester", caller.UserName))
	respondSuccess(c, http.StatusAccepted, runPayload{RunID: run.ID})
}

func (h *httpHandler) handleUpdateStream(c *gin.Context) {
	requester := c.GetString(userNameContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, requester)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, newRealtimeEventPayload(message))
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}

func (h *httpHandler) handleTastingUpdate(c *gin.Context) {
	caller := c.GetString(userNameContextKey)
	if h.tastingAdmin == "" || !strings.EqualFold(caller, h.tastingAdmin) {
		respondFail(c, http.StatusForbidden, messageUnauthorized)
		return
	}
	ids, ok := parseIDList(c, "users")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	response := tastingUpdatePayload{Missing: []string{}}
	if len(ids) == 0 {
		c.JSON(http.StatusOK, response)
		return
	}
	participants, err := h.stats.TastingUsers(ctx, ids)
	if err != nil {
		h.respondQueryError(c, "tasting_update", err)
		return
	}

	for _, participant := range participants {
		if !participant.HasCredential() {
			h.logger.Info("tasting participant has no credential", zap.String("username", participant.UserName))
			response.Missing = append(response.Missing, participant.UserName)
			continue
		}
		updated, err := h.refresher.RefreshFirstPage(ctx, participant)
		if err != nil {
			h.logger.Warn("tasting refresh failed", zap.String("username", participant.UserName), zap.Error(err))
		}
		response.Updated = response.Updated || updated
	}
	c.JSON(http.StatusOK, response)
}
