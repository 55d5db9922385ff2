package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/bridge"
)

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStatusView(s.store.Snapshot()))
}

func (s *Server) handleCheckLogin(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Snapshot()
	writeJSON(w, http.StatusOK, result{
		"logged_in": st.Authenticated,
		"connected": st.Connected,
	})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, _ *http.Request) {
	v := newStatusView(s.store.Snapshot())
	name := "User"
	if v.Name != nil {
		name = *v.Name
	}
	success(w, result{
		"name":     name,
		"phone":    v.Phone,
		"username": v.Username,
		"user_id":  v.UserID,
	})
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		failure(w, msgInvalidBody)
		return
	}
	if err := s.auth.RequestCode(r.Context(), req.Phone); err != nil {
		s.fail(w, r, err)
		return
	}
	success(w, nil)
}

type verifyRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		failure(w, msgInvalidBody)
		return
	}
	if err := s.auth.Verify(r.Context(), req.Code, req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	success(w, nil)
}

func (s *Server) handleDialogs(w http.ResponseWriter, r *http.Request) {
	dialogs, err := s.data.ListDialogs(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]dialogView, 0, len(dialogs))
	for _, d := range dialogs {
		out = append(out, newDialogView(d))
	}
	success(w, result{"dialogs": out})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathChatID(r)
	if !ok {
		notFound(w, r)
		return
	}

	msgs, err := s.data.ListMessages(r.Context(), chatID, queryInt(r, "limit", 0), queryInt(r, "offset_id", 0))
	if errors.Is(err, bridge.ErrTimeout) {
		s.log.Warn("Timed out loading messages", zap.Int64("chat_id", chatID))
		failure(w, msgMessagesTimeout)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m))
	}
	success(w, result{"messages": out})
}

type sendMessageRequest struct {
	ChatID  chatID `json:"chat_id"`
	Message string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		failure(w, msgInvalidBody)
		return
	}
	if req.ChatID == 0 {
		failure(w, msgChatIDRequired)
		return
	}

	msg, err := s.data.SendMessage(r.Context(), int64(req.ChatID), req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	success(w, result{"message": msg})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := s.data.Search(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]searchView, 0, len(results))
	for _, res := range results {
		out = append(out, newSearchView(res))
	}
	success(w, result{"results": out})
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathChatID(r)
	if !ok {
		notFound(w, r)
		return
	}

	uri, ok, err := s.data.ProfilePhoto(r.Context(), chatID)
	switch {
	case err != nil:
		s.fail(w, r, err)
	case !ok:
		failure(w, msgNoProfilePhoto)
	default:
		success(w, result{"photo": uri})
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(r.Context())
	success(w, nil)
}
