package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"matti/backend/internal/analysis"
	"matti/backend/internal/followup"
)

func (a *App) createAction(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	var req createActionRequest
	if !mustJSON(c, &req) {
		return
	}

	action, entries, err := a.scheduler.SaveAction(c.Request.Context(), followup.NewAction{
		UserID:         user.ID,
		UserName:       user.Name,
		ConversationID: optionalTrimmed(req.ConversationID),
		Theme:          analysis.ThemeID(req.Theme),
		Text:           req.ActionText,
	})
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"action":     action,
		"follow_ups": entries,
	})
}

func (a *App) listActions(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	filter, err := parseActionFilter(c.Query("status"), c.Query("theme"))
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	actions, err := a.scheduler.ListActions(c.Request.Context(), user.ID, filter)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (a *App) actionStats(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	stats, err := a.scheduler.ActionStats(c.Request.Context(), user.ID)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *App) updateActionStatus(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	var req updateActionStatusRequest
	if !mustJSON(c, &req) {
		return
	}
	status, err := followup.ParseActionStatus(req.Status)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}

	action, skipped, err := a.scheduler.UpdateActionStatus(c.Request.Context(), user.ID, c.Param("action_id"), status)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"action":             action,
		"skipped_follow_ups": skipped,
	})
}

func (a *App) listActionFollowUps(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	entries, err := a.scheduler.ListFollowUps(c.Request.Context(), user.ID, c.Param("action_id"))
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"follow_ups": entries})
}

// rescheduleActionFollowUps writes check-ins missing after a partial save.
func (a *App) rescheduleActionFollowUps(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	actionID := c.Param("action_id")
	if _, err := a.scheduler.ListFollowUps(c.Request.Context(), user.ID, actionID); err != nil {
		a.writeServiceError(c, err)
		return
	}
	inserted, err := a.scheduler.ScheduleActionFollowUps(c.Request.Context(), actionID)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": inserted})
}

func (a *App) pendingFollowUps(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	entries, err := a.scheduler.PendingFollowUps(c.Request.Context(), user.ID)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"follow_ups": entries})
}

func (a *App) respondFollowUp(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	var req followUpResponseRequest
	if !mustJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Response) == "" {
		writeError(c, http.StatusBadRequest, "response is required")
		return
	}

	entry, err := a.scheduler.RecordResponse(c.Request.Context(), user.ID, c.Param("follow_up_id"), req.Response)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
