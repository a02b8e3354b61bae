// Package server exposes the purchase-order workflow over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mlaakso/orka/pkg/api"
	"github.com/mlaakso/orka/purchase"
)

const serviceName = "po-workflow"

// Server handles workflow start and approval-event requests. Responses carry
// structured JSON with an "error" field on failure; internal details never
// leak past the log.
type Server struct {
	engine api.Engine
	log    *slog.Logger
}

func New(engine api.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, log: log}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start-po-workflow", s.handleStart)
	mux.HandleFunc("POST /raise-approval-event", s.handleRaiseEvent)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

type startRequest struct {
	DurableInstanceID string     `json:"DurableInstanceId"`
	OrderID           string     `json:"OrderID"`
	Status            string     `json:"Status"`
	Details           string     `json:"Details"`
	Amount            flexString `json:"Amount"`
}

// flexString accepts both JSON strings and JSON numbers, since clients send
// the order amount either way.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type startResponse struct {
	Message    string `json:"message"`
	InstanceID string `json:"instanceId"`
	OrderID    string `json:"orderID"`
	Status     string `json:"status"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var missing []string
	if req.DurableInstanceID == "" {
		missing = append(missing, "DurableInstanceId")
	}
	if req.OrderID == "" {
		missing = append(missing, "OrderID")
	}
	if req.Status == "" {
		missing = append(missing, "Status")
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "))
		return
	}
	if req.Status != "Draft" {
		writeError(w, http.StatusBadRequest, "Order status must be 'Draft' to start workflow")
		return
	}

	order := purchase.Order{
		OrderID: req.OrderID,
		Status:  req.Status,
		Details: req.Details,
		Amount:  string(req.Amount),
	}
	_, err := s.engine.StartInstance(r.Context(), req.DurableInstanceID, purchase.WorkflowName, order)
	if err != nil {
		if errors.Is(err, api.ErrDuplicateInstance) {
			writeError(w, http.StatusConflict,
				fmt.Sprintf("Workflow instance %q already exists", req.DurableInstanceID))
			return
		}
		s.log.Error("starting workflow failed",
			"instance_id", req.DurableInstanceID,
			"order_id", req.OrderID,
			"error", err)
		writeError(w, http.StatusInternalServerError, "Failed to start workflow")
		return
	}

	s.log.Info("workflow started",
		"instance_id", req.DurableInstanceID,
		"order_id", req.OrderID)
	writeJSON(w, http.StatusAccepted, startResponse{
		Message:    "Purchase order workflow started",
		InstanceID: req.DurableInstanceID,
		OrderID:    req.OrderID,
		Status:     "Workflow Started",
	})
}

type raiseEventRequest struct {
	InstanceID string `json:"instanceId"`
	Action     string `json:"action"`
}

func (s *Server) handleRaiseEvent(w http.ResponseWriter, r *http.Request) {
	var req raiseEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InstanceID == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: instanceId")
		return
	}

	// The action value is relayed as-is; the workflow records whatever the
	// approver's system sent.
	err := s.engine.RaiseEvent(r.Context(), req.InstanceID, purchase.EventApprovalResponse, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, api.ErrInstanceNotFound):
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("Workflow instance %q not found", req.InstanceID))
		case errors.Is(err, api.ErrInstanceTerminal):
			writeError(w, http.StatusConflict,
				fmt.Sprintf("Workflow instance %q has already finished", req.InstanceID))
		default:
			s.log.Error("raising approval event failed",
				"instance_id", req.InstanceID,
				"error", err)
			writeError(w, http.StatusInternalServerError, "Failed to raise approval event")
		}
		return
	}

	s.log.Info("approval event raised",
		"instance_id", req.InstanceID,
		"action", req.Action)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Approval event %q raised for instance %s", req.Action, req.InstanceID)
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
