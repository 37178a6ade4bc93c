package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/career-counselor/internal/chat"
	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/httpapi/middleware"
)

type sendMessageReq struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(key) > chat.MaxRequestKeyLength {
		common.Fail(c, http.StatusBadRequest, 10003, "Idempotency-Key too long")
		return
	}

	caller := middleware.IdentityFrom(c)
	ip := middleware.ClientIPFrom(c)

	res, err := h.ChatSvc.SendMessageOnce(c.Request.Context(), caller, ip, req.SessionID, req.Content, key)
	if err != nil {
		if common.KindOf(err) == common.KindInternal {
			log.Printf("[SendChatMessage] failed uid=%d ip=%s session_id=%s err=%v", caller.UserID, ip, req.SessionID, err)
		}
		common.FailErr(c, err)
		return
	}

	common.OK(c, res)
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	caller := middleware.IdentityFrom(c)
	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	before := c.Query("before_id")

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), caller, sessionID, limit, before)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	// oldest message of the page is the cursor for the next, older page
	nextBeforeID := ""
	if len(msgs) > 0 {
		nextBeforeID = msgs[0].MessageID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) GetRateLimitStatus(c *gin.Context) {
	caller := middleware.IdentityFrom(c)

	st, err := h.ChatSvc.RateLimitStatus(c.Request.Context(), caller, middleware.ClientIPFrom(c))
	if err != nil {
		common.FailErr(c, err)
		return
	}

	data := gin.H{
		"remaining":        st.Remaining,
		"is_authenticated": caller.Authenticated,
	}
	if !st.ResetAt.IsZero() {
		data["reset_at"] = st.ResetAt
	}
	common.OK(c, data)
}

// ResetRateLimit clears the caller's own IP record. Disabled in production.
func (h *Handler) ResetRateLimit(c *gin.Context) {
	if h.Cfg.IsProduction() {
		common.FailErr(c, common.Forbidden("rate limit reset is disabled in production"))
		return
	}

	ip := middleware.ClientIPFrom(c)
	if err := h.ChatSvc.ResetRateLimit(c.Request.Context(), ip); err != nil {
		common.FailErr(c, err)
		return
	}
	log.Printf("[ResetRateLimit] cleared ip=%s", ip)
	common.OK(c, gin.H{"success": true})
}

func (h *Handler) GetAnalytics(c *gin.Context) {
	a, err := h.ChatSvc.Analytics(c.Request.Context())
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, a)
}
