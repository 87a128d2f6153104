package chat

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/polyglot-chat/backend/internal/service/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
	"github.com/zhouzirui/polyglot-chat/backend/pkg/utils"
)

// Handler 聊天记录的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats/{chatID}/messages", h.handleListMessages)
}

// handleListMessages 返回原文消息；带 lang 参数时返回该语言的译文副本
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	page, err := parsePage(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := r.URL.Query()
	if _, wantTranslated := query["lang"]; wantTranslated {
		items, err := h.chatSvc.Translations(r.Context(), chatID, query.Get("lang"), page)
		if err != nil {
			h.respondFailure(w, chatID, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"chatId":   chatID,
			"language": strings.ToLower(strings.TrimSpace(query.Get("lang"))),
			"messages": items,
		})
		return
	}

	items, err := h.chatSvc.Messages(r.Context(), chatID, page)
	if err != nil {
		h.respondFailure(w, chatID, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"chatId":   chatID,
		"messages": items,
	})
}

func (h *Handler) respondFailure(w http.ResponseWriter, chatID string, err error) {
	if errors.Is(err, chatService.ErrChatRequired) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("[chat] list history chat=%s failed: %v", chatID, err)
	utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
}

func parsePage(r *http.Request) (store.Page, error) {
	var page store.Page
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return page, errors.New("limit must be a non-negative integer")
		}
		page.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return page, errors.New("offset must be a non-negative integer")
		}
		page.Offset = offset
	}
	return page.Normalize(), nil
}
