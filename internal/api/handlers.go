// Package api provides HTTP handlers for RobotFeed endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/BTreeMap/RobotFeed/internal/i18n"
	"github.com/BTreeMap/RobotFeed/internal/models"
	"github.com/BTreeMap/RobotFeed/internal/robots"
	"github.com/BTreeMap/RobotFeed/internal/util"
)

// CompleteFlowChartRequest is the body of a flow-chart completion.
type CompleteFlowChartRequest struct {
	StartNodeID string `json:"start_node_id,omitempty"`
	Date        string `json:"date,omitempty"`
}

// TreatmentTimelineStatusRequest is the body of a treatment-timeline status update.
type TreatmentTimelineStatusRequest struct {
	IsRobotRead    bool   `json:"is_robot_read"`
	NotificationID string `json:"notification_id"`
	Date           string `json:"date,omitempty"`
}

// requestDate parses the client reference date, defaulting to now. The
// optional tz query parameter (IANA name) sets the clock of bare dates.
func (s *Server) requestDate(r *http.Request, value string) (time.Time, error) {
	now, err := util.InZone(s.opts.Now(), r.URL.Query().Get("tz"))
	if err != nil {
		return time.Time{}, models.BadRequestf("%v", err)
	}
	t, err := util.ParseRequestDate(value, now)
	if err != nil {
		return time.Time{}, models.BadRequestf("%v", err)
	}
	return t, nil
}

// locale negotiates from Accept-Language, or from the user's stored locale
// when the header is absent.
func (s *Server) locale(r *http.Request, userID string) string {
	if header := r.Header.Get("Accept-Language"); header != "" {
		return s.locales.Negotiate(header, i18n.DefaultLocale)
	}
	user, err := s.users.User(r.Context(), userID)
	if err != nil {
		slog.Warn("Server.locale: user lookup failed, using default locale", "userID", userID, "error", err)
		return i18n.DefaultLocale
	}
	if user == nil || user.Locale == "" {
		return i18n.DefaultLocale
	}
	return s.locales.Negotiate(user.Locale, i18n.DefaultLocale)
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return models.BadRequestf("invalid JSON format")
	}
	return nil
}

func (s *Server) getRobotsHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	q := r.URL.Query()
	date, err := s.requestDate(r, q.Get("date"))
	if err != nil {
		writeError(w, "Server.getRobotsHandler", err)
		return
	}
	req := robots.Request{
		UserID: userID,
		Date:   date,
		Page:   models.Page(strings.ToUpper(q.Get("page"))),
		Locale: s.locale(r, userID),
	}
	slog.Debug("Server.getRobotsHandler: selecting robots", "userID", userID, "date", util.DateString(date), "page", req.Page, "locale", req.Locale)

	selected, err := s.robots.SelectRobots(r.Context(), req)
	if err != nil {
		writeError(w, "Server.getRobotsHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.RobotFeed{Robots: selected}))
}

func (s *Server) getFlowChartRobotHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	date, err := s.requestDate(r, q.Get("date"))
	if err != nil {
		writeError(w, "Server.getFlowChartRobotHandler", err)
		return
	}

	robot, err := s.flows.GetFlowChartRobot(r.Context(), userID, id, q.Get("start_node_id"), util.DateString(date), s.locale(r, userID))
	if err != nil {
		writeError(w, "Server.getFlowChartRobotHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(robot))
}

func (s *Server) completeFlowChartRobotHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	id := mux.Vars(r)["id"]
	var body CompleteFlowChartRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, "Server.completeFlowChartRobotHandler", err)
		return
	}
	date, err := s.requestDate(r, body.Date)
	if err != nil {
		writeError(w, "Server.completeFlowChartRobotHandler", err)
		return
	}

	if err := s.flows.CompleteFlowChartRobot(r.Context(), userID, id, body.StartNodeID, util.DateString(date)); err != nil {
		writeError(w, "Server.completeFlowChartRobotHandler", err)
		return
	}
	slog.Info("Server.completeFlowChartRobotHandler: flow-chart robot completed", "userID", userID, "robotID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow-chart robot completed", nil))
}

func (s *Server) updateTreatmentTimelineStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	var body TreatmentTimelineStatusRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, "Server.updateTreatmentTimelineStatusHandler", err)
		return
	}
	at, err := s.requestDate(r, body.Date)
	if err != nil {
		writeError(w, "Server.updateTreatmentTimelineStatusHandler", err)
		return
	}

	if err := s.robots.UpdateTreatmentTimelineRobotStatus(r.Context(), userID, body.IsRobotRead, body.NotificationID, at); err != nil {
		writeError(w, "Server.updateTreatmentTimelineStatusHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Treatment timeline robot status updated", nil))
}

func (s *Server) listFlowChartRobotsHandler(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.flows.ListFlowChartRobots(r.Context())
	if err != nil {
		writeError(w, "Server.listFlowChartRobotsHandler", err)
		return
	}
	if nodes == nil {
		nodes = []models.FlowChartRobot{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nodes))
}

func (s *Server) addFlowChartRobotHandler(w http.ResponseWriter, r *http.Request) {
	var in models.FlowChartRobotInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, "Server.addFlowChartRobotHandler", err)
		return
	}
	node, err := s.flows.AddFlowChartRobot(r.Context(), in)
	if err != nil {
		writeError(w, "Server.addFlowChartRobotHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(node))
}

func (s *Server) updateFlowChartRobotHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in models.FlowChartRobotInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, "Server.updateFlowChartRobotHandler", err)
		return
	}
	node, err := s.flows.UpdateFlowChartRobot(r.Context(), id, in)
	if err != nil {
		writeError(w, "Server.updateFlowChartRobotHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(node))
}

func (s *Server) deleteFlowChartRobotHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.flows.DeleteFlowChartRobot(r.Context(), id); err != nil {
		writeError(w, "Server.deleteFlowChartRobotHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow-chart robot deleted", nil))
}
