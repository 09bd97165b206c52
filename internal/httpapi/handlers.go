package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"meshmonitor/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorBody{Error: fmt.Sprintf(format, args...)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)

		return false
	}

	return true
}

// pathNode resolves a {node} path segment in either !hex or decimal form.
func pathNode(w http.ResponseWriter, r *http.Request) (domain.NodeNum, bool) {
	raw := r.PathValue("node")
	if num, err := domain.ParseNodeID(raw); err == nil {
		return num, true
	}
	if num, err := strconv.ParseUint(raw, 10, 32); err == nil {
		return domain.NodeNum(num), true
	}
	writeError(w, http.StatusBadRequest, "invalid node id: %q", raw)

	return 0, false
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	snap, err := s.poll.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("poll snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "snapshot failed")

		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.poll.ConnectionInfo())
}

type sendMessageRequest struct {
	Text        string `json:"text"`
	Channel     *int   `json:"channel"`
	Destination string `json:"destination"`
	ReplyID     uint32 `json:"replyId"`
	Emoji       string `json:"emoji"`
}

type sendMessageResponse struct {
	RequestID uint32         `json:"requestId"`
	Message   domain.Message `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	channel := domain.DirectChannel
	var to domain.NodeNum
	switch {
	case req.Channel != nil:
		channel = *req.Channel
	case req.Destination != "":
		num, err := domain.ParseNodeID(req.Destination)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid destination: %v", err)

			return
		}
		to = num
	default:
		writeError(w, http.StatusBadRequest, "channel or destination is required")

		return
	}

	var (
		msg domain.Message
		err error
	)
	if req.Emoji != "" {
		msg, err = s.router.SendReaction(r.Context(), channel, to, req.Emoji, req.ReplyID)
	} else {
		msg, err = s.router.SendText(r.Context(), channel, to, req.Text)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "send failed: %v", err)

		return
	}
	writeJSON(w, http.StatusOK, sendMessageResponse{RequestID: msg.RequestID, Message: msg})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "conversation key is required")

		return
	}
	if err := s.poll.MarkConversationRead(r.Context(), req.Key); err != nil {
		s.logger.Error("mark read failed", "key", req.Key, "error", err)
		writeError(w, http.StatusInternalServerError, "mark read failed")

		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")

		return
	}
	from := r.URL.Query().Get("from")
	if from == "" {
		writeError(w, http.StatusBadRequest, "from query parameter is required")

		return
	}
	if err := s.store.Messages.Delete(r.Context(), domain.NormalizeNodeID(from), uint32(id)); err != nil {
		s.logger.Error("message delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")

		return
	}
	s.audit(r, "api.messages.delete", fmt.Sprintf("%s/%d", from, id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(r.PathValue("ch"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel")

		return
	}
	if err := s.store.Messages.DeleteChannel(r.Context(), ch); err != nil {
		s.logger.Error("channel delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")

		return
	}
	s.audit(r, "api.messages.delete_channel", strconv.Itoa(ch))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteDirect(w http.ResponseWriter, r *http.Request) {
	num, ok := pathNode(w, r)
	if !ok {
		return
	}
	local := s.poll.ConnectionInfo().LocalNodeID
	if err := s.store.Messages.DeleteDirect(r.Context(), local, domain.FormatNodeID(num)); err != nil {
		s.logger.Error("direct conversation delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")

		return
	}
	s.audit(r, "api.messages.delete_direct", domain.FormatNodeID(num))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNodeMessages(w http.ResponseWriter, r *http.Request) {
	num, ok := pathNode(w, r)
	if !ok {
		return
	}
	if err := s.store.Messages.DeleteForNode(r.Context(), domain.FormatNodeID(num)); err != nil {
		s.logger.Error("node message delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")

		return
	}
	s.audit(r, "api.messages.delete_node", domain.FormatNodeID(num))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePurgeNode(w http.ResponseWriter, r *http.Request) {
	num, ok := pathNode(w, r)
	if !ok {
		return
	}
	if err := s.router.PurgeNode(r.Context(), num); err != nil {
		s.logger.Error("node purge failed", "error", err)
		writeError(w, http.StatusInternalServerError, "purge failed")

		return
	}
	s.audit(r, "api.nodes.purge", domain.FormatNodeID(num))
	w.WriteHeader(http.StatusNoContent)
}

type destinationRequest struct {
	Destination string `json:"destination"`
}

func (s *Server) resolveDestination(w http.ResponseWriter, r *http.Request) (domain.NodeNum, bool) {
	var req destinationRequest
	if !decodeBody(w, r, &req) {
		return 0, false
	}
	num, err := domain.ParseNodeID(req.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid destination: %v", err)

		return 0, false
	}

	return num, true
}

type requestIDResponse struct {
	RequestID uint32 `json:"requestId"`
}

func (s *Server) handleTraceroute(w http.ResponseWriter, r *http.Request) {
	num, ok := s.resolveDestination(w, r)
	if !ok {
		return
	}
	id, err := s.router.SendTraceroute(r.Context(), num, 0)
	if err != nil {
		writeError(w, http.StatusBadGateway, "traceroute failed: %v", err)

		return
	}
	writeJSON(w, http.StatusOK, requestIDResponse{RequestID: id})
}

func (s *Server) handlePositionRequest(w http.ResponseWriter, r *http.Request) {
	num, ok := s.resolveDestination(w, r)
	if !ok {
		return
	}
	id, err := s.router.RequestPosition(r.Context(), num)
	if err != nil {
		writeError(w, http.StatusBadGateway, "position request failed: %v", err)

		return
	}
	writeJSON(w, http.StatusOK, requestIDResponse{RequestID: id})
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	num, ok := pathNode(w, r)
	if !ok {
		return
	}
	var req flagRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.router.SetFavorite(r.Context(), num, req.Value); err != nil {
		writeError(w, http.StatusBadGateway, "favorite update failed: %v", err)

		return
	}
	s.audit(r, "api.nodes.favorite", fmt.Sprintf("%s=%t", domain.FormatNodeID(num), req.Value))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIgnored(w http.ResponseWriter, r *http.Request) {
	num, ok := pathNode(w, r)
	if !ok {
		return
	}
	var req flagRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.router.SetIgnored(r.Context(), num, req.Value); err != nil {
		writeError(w, http.StatusBadGateway, "ignored update failed: %v", err)

		return
	}
	s.audit(r, "api.nodes.ignored", fmt.Sprintf("%s=%t", domain.FormatNodeID(num), req.Value))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodesRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.router.RefreshNodeDB(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "refresh failed: %v", err)

		return
	}
	s.audit(r, "api.nodes.refresh", "")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) audit(r *http.Request, action, resource string) {
	_, err := s.store.Audit.Append(r.Context(), domain.AuditEntry{
		Actor:    "api",
		Action:   action,
		Resource: resource,
		IP:       r.RemoteAddr,
	})
	if err != nil {
		s.logger.Warn("audit write failed", "action", action, "error", err)
	}
}
