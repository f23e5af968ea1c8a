package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cameroncuttingedge/battleship/game"
	"github.com/cameroncuttingedge/battleship/session"
	"github.com/cameroncuttingedge/battleship/utils"
	"github.com/cameroncuttingedge/battleship/websocket"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type createRequest struct {
	MatchID string `json:"matchId"`
	Creator string `json:"creator"`
}

type playerRequest struct {
	PlayerID string `json:"playerId"`
}

type boardRequest struct {
	PlayerID string      `json:"playerId"`
	Ships    []game.Ship `json:"ships"`
}

// Move is a shot request. X and Y are pointers so a missing coordinate is
// told apart from zero.
type Move struct {
	PlayerID string `json:"playerId"`
	X        *int   `json:"x"`
	Y        *int   `json:"y"`
}

type handler struct {
	manager *session.Manager
}

// NewRouter wires the command routes and the live channel onto a mux router.
func NewRouter(manager *session.Manager) *mux.Router {
	h := &handler{manager: manager}
	r := mux.NewRouter()

	r.HandleFunc("/match", h.createMatchHandler).Methods("POST")
	r.HandleFunc("/match/{matchID}/join", h.joinMatchHandler).Methods("POST")
	r.HandleFunc("/match/{matchID}/board", h.submitBoardHandler).Methods("POST")
	r.HandleFunc("/match/{matchID}/shot", h.makeShotHandler).Methods("POST")
	r.HandleFunc("/match/{matchID}/forfeit", h.forfeitHandler).Methods("POST")
	r.HandleFunc("/match/{matchID}/cancel", h.cancelHandler).Methods("POST")
	r.HandleFunc("/match/{matchID}/status", h.getMatchStatusHandler).Methods("GET")
	r.HandleFunc("/ws/match/{matchID}", websocket.GameWebSocketHandler(manager))

	return r
}

func (h *handler) createMatchHandler(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.MatchID == "" {
		req.MatchID = utils.GenerateUUIDString()
	}

	log.Info().Str("matchID", req.MatchID).Str("creator", req.Creator).Msg("Attempting to create new match")
	_, snap, err := h.manager.Initialize(r.Context(), req.MatchID, req.Creator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *handler) joinMatchHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req playerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Join(r.Context(), req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) submitBoardHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req boardRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PlayerID == "" {
		writeError(w, validation("playerId is required"))
		return
	}
	res, err := s.SubmitBoard(r.Context(), req.PlayerID, req.Ships)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) makeShotHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	move, err := validateAndExtractMove(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.MakeShot(r.Context(), move.PlayerID, *move.X, *move.Y)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) forfeitHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req playerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Forfeit(r.Context(), req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) cancelHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req playerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Cancel(r.Context(), req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) getMatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// session resolves the route's match, writing the error response itself when
// it cannot.
func (h *handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	matchID, ok := mux.Vars(r)["matchID"]
	if !ok || matchID == "" {
		writeError(w, validation("match ID is required"))
		return nil, false
	}
	s, err := h.manager.Get(r.Context(), matchID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

func validateAndExtractMove(r *http.Request) (*Move, error) {
	var move Move
	if err := decode(r, &move); err != nil {
		return nil, err
	}

	// Validate required fields
	if strings.TrimSpace(move.PlayerID) == "" {
		return nil, validation("playerId is required")
	}
	if move.X == nil || move.Y == nil {
		return nil, validation("x and y are required")
	}
	return &move, nil
}

func decode(r *http.Request, out interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return validation(fmt.Sprintf("error decoding JSON: %v", err))
	}
	return nil
}

func validation(msg string) error {
	return &session.Error{Code: session.CodeValidation, Message: msg}
}

func statusFor(code session.Code) int {
	switch code {
	case session.CodeValidation, session.CodeDuplicateShot:
		return http.StatusBadRequest
	case session.CodeUnauthorized:
		return http.StatusForbidden
	case session.CodeNotFound:
		return http.StatusNotFound
	case session.CodeInvalidState, session.CodeInvalidTurn, session.CodeTimeoutExceeded:
		return http.StatusConflict
	case session.CodeSettlement:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrStopped) {
		// The match was retired between lookup and command. A retry reloads it.
		writeJSON(w, http.StatusServiceUnavailable, &session.Error{Code: session.CodeInternal, Message: "match is being reloaded, retry"})
		return
	}
	var e *session.Error
	if !errors.As(err, &e) {
		log.Error().Err(err).Msg("Unhandled command error")
		e = &session.Error{Code: session.CodeInternal, Message: "internal error"}
	}
	writeJSON(w, statusFor(e.Code), e)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
