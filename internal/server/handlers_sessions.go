package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"matti/backend/internal/analysis"
	"matti/backend/internal/analytics"
)

func (a *App) sessionStart(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	var req sessionStartRequest
	if !mustJSON(c, &req) {
		return
	}
	theme := analysis.ThemeGeneral
	if strings.TrimSpace(req.Theme) != "" {
		parsed, err := analysis.ParseThemeID(req.Theme)
		if err != nil {
			a.writeServiceError(c, err)
			return
		}
		theme = parsed
	}

	if err := a.analytics.Publish(c.Request.Context(), analytics.SessionStart{
		UserID:     user.ID,
		SessionID:  strings.TrimSpace(req.SessionID),
		Age:        req.Age,
		PostalCode: req.PostalCode,
		IsNewUser:  req.IsNewUser,
		Theme:      theme,
	}); err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"age_group": analytics.AgeGroup(req.Age),
	})
}

func (a *App) sessionEnd(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	var req sessionEndRequest
	if !mustJSON(c, &req) {
		return
	}

	if err := a.analytics.Publish(c.Request.Context(), analytics.SessionEnd{
		UserID:            user.ID,
		SessionID:         strings.TrimSpace(req.SessionID),
		DurationSeconds:   req.DurationSeconds,
		TotalMessages:     req.TotalMessages,
		SatisfactionScore: req.SatisfactionScore,
	}); err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// outcomeSummary renders the intervention summary. With a session id and
// an outcome it is also reported to the dashboard.
func (a *App) outcomeSummary(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	var req outcomeSummaryRequest
	if !mustJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.InitialProblem) == "" {
		writeError(c, http.StatusBadRequest, "initial_problem is required")
		return
	}
	if req.ConversationCount < 0 || req.DurationDays < 0 || req.ActionCompletionRate < 0 || req.ActionCompletionRate > 100 {
		writeError(c, http.StatusBadRequest, "counts must not be negative and completion rate must be 0-100")
		return
	}

	summary := analysis.GenerateOutcomeSummary(
		req.InitialProblem,
		req.ConversationCount,
		req.DurationDays,
		req.Resolution,
		req.ActionCompletionRate,
	)

	reported := false
	if strings.TrimSpace(req.SessionID) != "" && strings.TrimSpace(req.Outcome) != "" {
		if err := a.analytics.Publish(c.Request.Context(), analytics.InterventionOutcome{
			UserID:               user.ID,
			SessionID:            strings.TrimSpace(req.SessionID),
			InitialProblem:       req.InitialProblem,
			ConversationCount:    req.ConversationCount,
			DurationDays:         req.DurationDays,
			Outcome:              analysis.OutcomeStatus(strings.ToLower(strings.TrimSpace(req.Outcome))),
			Resolution:           req.Resolution,
			ActionCompletionRate: req.ActionCompletionRate,
		}); err != nil {
			a.writeServiceError(c, err)
			return
		}
		reported = a.analytics.Enabled()
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":  summary,
		"reported": reported,
	})
}
