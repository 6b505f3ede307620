package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"matti/backend/internal/analysis"
	"matti/backend/internal/pipeline"
)

func (a *App) analyzeText(c *gin.Context) {
	if _, ok := mustAuthUser(c); !ok {
		return
	}
	var req analyzeTextRequest
	if !mustJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.Reply) == "" {
		writeError(c, http.StatusBadRequest, "text or reply is required")
		return
	}

	theme := a.analyzer.DetectTheme(req.Text)
	risk := a.analyzer.DetectRisk(req.Text)
	severity := theme.Severity
	if risk != nil && risk.Level.Rank() > severity.Rank() {
		severity = risk.Level
	}
	c.JSON(http.StatusOK, gin.H{
		"risk":             risk,
		"theme":            theme,
		"intervention":     a.analyzer.InterventionApproach(theme.Theme, severity),
		"crisis_response":  a.analyzer.DetectCrisisResponse(req.Reply),
		"action":           a.analyzer.DetectActionIntelligent(req.Reply),
		"resolution":       a.analyzer.DetectResolution(req.Text, req.Reply),
		"keywords_version": a.analyzer.Version(),
	})
}

func (a *App) analyzeConversation(c *gin.Context) {
	if _, ok := mustAuthUser(c); !ok {
		return
	}
	var req analyzeConversationRequest
	if !mustJSON(c, &req) {
		return
	}
	if req.Messages == nil {
		writeError(c, http.StatusBadRequest, "messages is required")
		return
	}

	bullying, err := a.analyzer.AssessBullying(req.Messages)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	theme, err := a.analyzer.DetectConversationTheme(req.Messages)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	outcome, err := a.analyzer.AssessOutcome(req.Messages)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	risk := a.analyzer.DetectRisk(latestUserMessage(req.Messages))

	c.JSON(http.StatusOK, gin.H{
		"risk":           risk,
		"bullying":       bullying,
		"theme":          theme,
		"outcome":        outcome,
		"outcome_status": analysis.OutcomeStatusFor(outcome, risk),
	})
}

func latestUserMessage(messages []analysis.Message) string {
	for idx := len(messages) - 1; idx >= 0; idx-- {
		if strings.EqualFold(strings.TrimSpace(messages[idx].Role), analysis.RoleUser) {
			return messages[idx].Content
		}
	}
	return ""
}

func (a *App) processExchange(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	var req exchangeRequest
	if !mustJSON(c, &req) {
		return
	}

	result, err := a.pipeline.ProcessExchange(c.Request.Context(), pipeline.Exchange{
		UserID:         user.ID,
		UserName:       user.Name,
		ConversationID: strings.TrimSpace(req.ConversationID),
		Theme:          analysis.ThemeID(strings.TrimSpace(req.Theme)),
		History:        req.History,
		UserMessage:    req.UserMessage,
		Reply:          req.Reply,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidExchange) || errors.Is(err, analysis.ErrInvalidInput) {
			a.writeServiceError(c, err)
			return
		}
		// Classification is returned even when follow-ups were not saved.
		a.logger.Error("exchange persistence failed", "user_id", user.ID, "conversation_id", req.ConversationID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"detail": "Failed to save follow-ups",
			"result": result,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *App) welcome(c *gin.Context) {
	user, ok := mustAuthUser(c)
	if !ok {
		return
	}
	age, valid := parseAge(c.Query("age"))
	if !valid {
		writeError(c, http.StatusBadRequest, "age must be a number")
		return
	}
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		name = displayName(user)
	}
	c.JSON(http.StatusOK, gin.H{"message": a.analyzer.Welcome(name, age, a.picker)})
}

func (a *App) themes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"themes": analysis.AllThemes()})
}
