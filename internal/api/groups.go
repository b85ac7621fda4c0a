package api

import (
	"net/http"

	"govorilka/internal/models"
)

type membersRequest struct {
	UserIDs []string `json:"userIds"`
}

// membershipResponse is returned by operations that may delete the group.
type membershipResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Added        []string             `json:"added,omitempty"`
	Deleted      bool                 `json:"deleted"`
}

func (a *API) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"name"`
		Participants []string `json:"participants"`
		Bio          string   `json:"bio"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	conv, err := a.chat.CreateGroup(callerID(r), req.Name, req.Participants, req.Bio)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(conv, callerID(r)))
}

func (a *API) AddParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	conv, added, err := a.chat.AddParticipants(callerID(r), r.PathValue("id"), req.UserIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	if added == nil {
		added = []string{}
	}
	view := viewOf(conv, callerID(r))
	writeJSON(w, http.StatusOK, membershipResponse{Conversation: &view, Added: added})
}

func (a *API) RemoveParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	conv, deleted, err := a.chat.RemoveParticipants(callerID(r), r.PathValue("id"), req.UserIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMembership(w, r, conv, deleted)
}

func (a *API) LeaveGroupHandler(w http.ResponseWriter, r *http.Request) {
	conv, deleted, err := a.chat.Leave(callerID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeMembership(w, r, conv, deleted)
}

func writeMembership(w http.ResponseWriter, r *http.Request, conv models.Conversation, deleted bool) {
	resp := membershipResponse{Deleted: deleted}
	if !deleted {
		view := viewOf(conv, callerID(r))
		resp.Conversation = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

// rolesHandler adapts promote and demote.
func (a *API) rolesHandler(op func(callerID, conversationID string, userIDs []string) (models.Conversation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req membersRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}

		conv, err := op(callerID(r), r.PathValue("id"), req.UserIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(conv, callerID(r)))
	}
}

func (a *API) PromoteHandler() http.HandlerFunc { return a.rolesHandler(a.chat.Promote) }
func (a *API) DemoteHandler() http.HandlerFunc  { return a.rolesHandler(a.chat.Demote) }

func (a *API) RenameGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	conv, err := a.chat.Rename(callerID(r), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conv, callerID(r)))
}

func (a *API) UpdateBioHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bio string `json:"bio"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	conv, err := a.chat.UpdateBio(callerID(r), r.PathValue("id"), req.Bio)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conv, callerID(r)))
}

func (a *API) DeleteGroupHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.chat.DeleteGroup(callerID(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}
