package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/agents"
	"github.com/meridianhq/autopilot/internal/domain"
)

type cycleRequest struct {
	OrganizationID string `json:"organizationId"`
	GenerateBrief  bool   `json:"generateBrief"`
}

type cycleResponse struct {
	Success                bool                       `json:"success"`
	OrganizationsProcessed int                        `json:"organizations_processed"`
	Results                map[string][]agents.Result `json:"results"`
}

type capitalRequest struct {
	Action         string `json:"action"`
	OrganizationID string `json:"organization_id"`
	ContractID     string `json:"contract_id"`
	OpportunityID  string `json:"opportunity_id"`
	DeploymentID   string `json:"deployment_id"`
	Reason         string `json:"reason"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err), domain.IsCapitalExceeded(err):
		status = http.StatusBadRequest
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("internal error")
	}
	writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusNotFound, errorResponse{Success: false, Error: "not found"})
}

// handleAgentCycle triggers an agent cycle for one tenant, or for every
// eligible tenant when no organization is named. Per-tenant failures are
// carried inside the results, never thrown mid-roster.
func (s *Server) handleAgentCycle(w http.ResponseWriter, r *http.Request) {
	var req cycleRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, domain.NewValidationError("body", "is not valid JSON"))
			return
		}
	}

	if req.OrganizationID != "" {
		results := s.dispatcher.RunTenant(r.Context(), req.OrganizationID, req.GenerateBrief)
		writeJSON(w, http.StatusOK, cycleResponse{
			Success:                true,
			OrganizationsProcessed: 1,
			Results:                map[string][]agents.Result{req.OrganizationID: results},
		})
		return
	}

	report, err := s.dispatcher.RunAll(r.Context(), req.GenerateBrief)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cycleResponse{
		Success:                true,
		OrganizationsProcessed: report.OrganizationsProcessed,
		Results:                report.Results,
	})
}

// handleCapital routes the capital orchestrator actions. Each action
// validates its own required fields before touching any state.
func (s *Server) handleCapital(w http.ResponseWriter, r *http.Request) {
	var req capitalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("body", "is not valid JSON"))
		return
	}
	if req.OrganizationID == "" {
		writeError(w, domain.NewValidationError("organization_id", "is required"))
		return
	}

	ctx := r.Context()
	switch req.Action {
	case "scan_opportunities":
		opps, err := s.pipeline.Scan(ctx, req.OrganizationID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true, "opportunities": opps,
		})

	case "simulate":
		if req.OpportunityID == "" {
			writeError(w, domain.NewValidationError("opportunity_id", "is required"))
			return
		}
		opp, err := s.pipeline.Simulate(ctx, req.OpportunityID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true, "opportunity": opp,
		})

	case "execute":
		if req.OpportunityID == "" {
			writeError(w, domain.NewValidationError("opportunity_id", "is required"))
			return
		}
		dep, err := s.pipeline.Execute(ctx, req.OpportunityID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true, "deployment": dep,
		})

	case "monitor":
		alerts, err := s.pipeline.Monitor(ctx, req.OrganizationID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true, "alerts": alerts,
		})

	case "halt":
		if req.DeploymentID == "" {
			writeError(w, domain.NewValidationError("deployment_id", "is required"))
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = "operator requested halt"
		}
		dep, err := s.pipeline.Halt(ctx, req.DeploymentID, reason, domain.ActorOperator)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true, "deployment": dep,
		})

	case "reconcile":
		if req.DeploymentID == "" {
			writeError(w, domain.NewValidationError("deployment_id", "is required"))
			return
		}
		dep, err := s.pipeline.Reconcile(ctx, req.DeploymentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true, "deployment": dep,
		})

	default:
		writeError(w, domain.NewValidationError("action", "must be one of scan_opportunities, simulate, execute, monitor, halt, reconcile"))
	}
}

func (s *Server) handleActionHistory(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	if org == "" {
		writeError(w, domain.NewValidationError("org", "is required"))
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, domain.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	actions, err := s.ledger.History(r.Context(), org, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true, "actions": actions,
	})
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Note     string `json:"note"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, domain.ActionApproval)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, domain.ActionRejection)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, reviewType string) {
	id := mux.Vars(r)["id"]
	var req reviewRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, domain.NewValidationError("body", "is not valid JSON"))
			return
		}
	}
	reviewer := req.Reviewer
	if reviewer == "" {
		reviewer = domain.ActorOperator
	}

	record, err := s.ledger.Review(r.Context(), id, reviewType, reviewer, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true, "action": record,
	})
}
