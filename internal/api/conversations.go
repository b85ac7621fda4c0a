package api

import (
	"fmt"
	"net/http"
	"strconv"

	"govorilka/internal/models"
)

func (a *API) DirectConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	conv, err := a.chat.GetOrCreateDirect(callerID(r), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conv, callerID(r)))
}

func (a *API) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := a.chat.ListConversations(callerID(r), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	page.Conversations = viewsOf(page.Conversations, callerID(r))
	writeJSON(w, http.StatusOK, page)
}

func (a *API) SearchConversationsHandler(w http.ResponseWriter, r *http.Request) {
	found, err := a.chat.SearchConversations(callerID(r), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Conversations []models.Conversation `json:"conversations"`
	}{viewsOf(found, callerID(r))})
}

func (a *API) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := a.chat.GetConversation(callerID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conv, callerID(r)))
}

func (a *API) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := a.chat.GetMessages(callerID(r), r.PathValue("id"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	msg, err := a.chat.SendMessage(callerID(r), r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) SearchMessagesHandler(w http.ResponseWriter, r *http.Request) {
	found, err := a.chat.SearchMessages(callerID(r), r.PathValue("id"), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
	}{found})
}

// conversationAction adapts the per-conversation acknowledgement operations
// (markRead, hide, unhide, mute, unmute) to a handler.
func (a *API) conversationAction(op func(callerID, conversationID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(callerID(r), r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)
	}
}

func (a *API) MarkReadHandler() http.HandlerFunc { return a.conversationAction(a.chat.MarkRead) }
func (a *API) HideHandler() http.HandlerFunc     { return a.conversationAction(a.chat.Hide) }
func (a *API) UnhideHandler() http.HandlerFunc   { return a.conversationAction(a.chat.Unhide) }
func (a *API) MuteHandler() http.HandlerFunc     { return a.conversationAction(a.chat.Mute) }
func (a *API) UnmuteHandler() http.HandlerFunc   { return a.conversationAction(a.chat.Unmute) }

func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("invalid message id %q: %w", raw, models.ErrInvalidArgument))
		return
	}

	if err := a.chat.DeleteMessage(callerID(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}
