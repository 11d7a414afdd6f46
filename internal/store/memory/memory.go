// Package memory is an in-process Store used by tests and dev mode. All
// mutations run under a single mutex, which makes the capital
// check-and-increment trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridianhq/autopilot/internal/domain"
)

// Store implements store.Store in memory.
type Store struct {
	mu           sync.RWMutex
	agentConfigs map[string]domain.AgentConfig // org|agent
	autonomy     map[string]domain.AutonomyState
	contracts    map[string]domain.CapitalContract
	opps         map[string]domain.Opportunity
	deployments  map[string]domain.Deployment
	events       []domain.KillSwitchEvent
	actions      []domain.AutonomousAction
	transactions map[string][]domain.Transaction
	leads        map[string]domain.Lead
	meetings     map[string]domain.Meeting
	integrations map[string][]domain.Integration
	workflows    map[string][]domain.Workflow
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		agentConfigs: make(map[string]domain.AgentConfig),
		autonomy:     make(map[string]domain.AutonomyState),
		contracts:    make(map[string]domain.CapitalContract),
		opps:         make(map[string]domain.Opportunity),
		deployments:  make(map[string]domain.Deployment),
		transactions: make(map[string][]domain.Transaction),
		leads:        make(map[string]domain.Lead),
		meetings:     make(map[string]domain.Meeting),
		integrations: make(map[string][]domain.Integration),
		workflows:    make(map[string][]domain.Workflow),
	}
}

func configKey(orgID, agentType string) string { return orgID + "|" + agentType }

func (s *Store) EnsureAgentConfig(_ context.Context, orgID, agentType string) (domain.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := configKey(orgID, agentType)
	if cfg, ok := s.agentConfigs[key]; ok {
		return cfg, nil
	}
	cfg := domain.DefaultAgentConfig(orgID, agentType)
	cfg.UpdatedAt = time.Now().UTC()
	s.agentConfigs[key] = cfg
	return cfg, nil
}

// PutAgentConfig seeds a config directly; test helper and admin path.
func (s *Store) PutAgentConfig(cfg domain.AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentConfigs[configKey(cfg.OrgID, cfg.AgentType)] = cfg
}

func (s *Store) RecordAgentOutcome(_ context.Context, orgID, agentType, day string, actions int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := configKey(orgID, agentType)
	cfg, ok := s.agentConfigs[key]
	if !ok {
		cfg = domain.DefaultAgentConfig(orgID, agentType)
	}
	if cfg.ActionsDay == day {
		cfg.ActionsToday += actions
	} else {
		cfg.ActionsDay = day
		cfg.ActionsToday = actions
	}
	cfg.TotalActionsTaken += int64(actions)
	cfg.TotalValueGenerated += value
	cfg.UpdatedAt = time.Now().UTC()
	s.agentConfigs[key] = cfg
	return nil
}

func (s *Store) GetAutonomyState(_ context.Context, orgID string) (domain.AutonomyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.autonomy[orgID]; ok {
		return st, nil
	}
	return domain.AutonomyState{OrgID: orgID}, nil
}

// PutAutonomyState seeds an autonomy row; test helper and operator path.
func (s *Store) PutAutonomyState(st domain.AutonomyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autonomy[st.OrgID] = st
}

func (s *Store) RecordAutonomyCounters(_ context.Context, orgID string, observations, decisions, risks, actions int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.autonomy[orgID]
	st.OrgID = orgID
	st.Observations += observations
	st.Decisions += decisions
	st.RisksFlagged += risks
	st.ActionsTaken += actions
	st.UpdatedAt = time.Now().UTC()
	s.autonomy[orgID] = st
	return nil
}

func (s *Store) ListAutonomousOrgs(_ context.Context, minLevel int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orgs []string
	for org, st := range s.autonomy {
		if st.Level >= minLevel {
			orgs = append(orgs, org)
		}
	}
	sort.Strings(orgs)
	return orgs, nil
}

func (s *Store) GetContract(_ context.Context, id string) (domain.CapitalContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return domain.CapitalContract{}, domain.NewNotFoundError("contract", id)
	}
	return c, nil
}

// PutContract seeds a contract row.
func (s *Store) PutContract(c domain.CapitalContract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.ID] = c
}

func (s *Store) ListActiveContracts(_ context.Context, orgID string) ([]domain.CapitalContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CapitalContract
	for _, c := range s.contracts {
		if c.OrgID == orgID && c.Status == domain.ContractActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReserveCapital(_ context.Context, contractID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[contractID]
	if !ok {
		return domain.NewNotFoundError("contract", contractID)
	}
	if c.CurrentDeployed+amount > c.MaxCapital {
		return &domain.CapitalExceededError{
			ContractID: contractID,
			Requested:  amount,
			Headroom:   c.MaxCapital - c.CurrentDeployed,
		}
	}
	c.CurrentDeployed += amount
	s.contracts[contractID] = c
	return nil
}

func (s *Store) ReleaseCapital(_ context.Context, contractID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[contractID]
	if !ok {
		return domain.NewNotFoundError("contract", contractID)
	}
	c.CurrentDeployed -= amount
	if c.CurrentDeployed < 0 {
		c.CurrentDeployed = 0
	}
	s.contracts[contractID] = c
	return nil
}

func (s *Store) CreateOpportunity(_ context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps[opp.ID] = opp
	return nil
}

func (s *Store) GetOpportunity(_ context.Context, id string) (domain.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opp, ok := s.opps[id]
	if !ok {
		return domain.Opportunity{}, domain.NewNotFoundError("opportunity", id)
	}
	return opp, nil
}

func (s *Store) SaveProjection(_ context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.opps[opp.ID]
	if !ok {
		return domain.NewNotFoundError("opportunity", opp.ID)
	}
	cur.WorstCase = opp.WorstCase
	cur.BaseCase = opp.BaseCase
	cur.BestCase = opp.BestCase
	cur.ExpectedValue = opp.ExpectedValue
	cur.RiskAdjustedReturn = opp.RiskAdjustedReturn
	cur.Status = opp.Status
	s.opps[opp.ID] = cur
	return nil
}

func (s *Store) ClaimOpportunity(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opps[id]
	if !ok {
		return false, domain.NewNotFoundError("opportunity", id)
	}
	if opp.Status != domain.OpportunityReady {
		return false, nil
	}
	opp.Status = domain.OpportunityExecuting
	s.opps[id] = opp
	return true, nil
}

func (s *Store) SetOpportunityStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opps[id]
	if !ok {
		return domain.NewNotFoundError("opportunity", id)
	}
	opp.Status = status
	s.opps[id] = opp
	return nil
}

func (s *Store) CreateDeployment(_ context.Context, dep domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[dep.ID] = dep
	return nil
}

func (s *Store) GetDeployment(_ context.Context, id string) (domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dep, ok := s.deployments[id]
	if !ok {
		return domain.Deployment{}, domain.NewNotFoundError("deployment", id)
	}
	return dep, nil
}

// PutDeployment seeds a deployment row.
func (s *Store) PutDeployment(dep domain.Deployment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[dep.ID] = dep
}

func (s *Store) ListOpenDeployments(_ context.Context, orgID string) ([]domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Deployment
	for _, d := range s.deployments {
		if orgID != "" && d.OrgID != orgID {
			continue
		}
		if d.Status == domain.DeploymentActive || d.Status == domain.DeploymentMonitoring {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) HaltDeployment(_ context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.deployments[id]
	if !ok {
		return false, domain.NewNotFoundError("deployment", id)
	}
	if dep.Status != domain.DeploymentActive && dep.Status != domain.DeploymentMonitoring {
		return false, nil
	}
	dep.Status = domain.DeploymentHalted
	dep.HaltReason = reason
	dep.UpdatedAt = time.Now().UTC()
	s.deployments[id] = dep
	return true, nil
}

func (s *Store) SetDeploymentStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.deployments[id]
	if !ok {
		return domain.NewNotFoundError("deployment", id)
	}
	dep.Status = status
	dep.UpdatedAt = time.Now().UTC()
	s.deployments[id] = dep
	return nil
}

func (s *Store) AppendKillSwitchEvent(_ context.Context, ev domain.KillSwitchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) ListKillSwitchEvents(_ context.Context, orgID string) ([]domain.KillSwitchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.KillSwitchEvent
	for _, ev := range s.events {
		if orgID == "" || ev.OrgID == orgID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) AppendAction(_ context.Context, act domain.AutonomousAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, act)
	return nil
}

func (s *Store) GetAction(_ context.Context, id string) (domain.AutonomousAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, act := range s.actions {
		if act.ID == id {
			return act, nil
		}
	}
	return domain.AutonomousAction{}, domain.NewNotFoundError("action", id)
}

func (s *Store) ListActions(_ context.Context, orgID string, limit int) ([]domain.AutonomousAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AutonomousAction
	for i := len(s.actions) - 1; i >= 0; i-- {
		if orgID != "" && s.actions[i].OrgID != orgID {
			continue
		}
		out = append(out, s.actions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListActionsByTarget(_ context.Context, ref string) ([]domain.AutonomousAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AutonomousAction
	for _, act := range s.actions {
		if act.TargetRef == ref {
			out = append(out, act)
		}
	}
	return out, nil
}

// Business-row seeding helpers for tests and dev fixtures.

func (s *Store) AddTransaction(t domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.OrgID] = append(s.transactions[t.OrgID], t)
}

func (s *Store) AddLead(l domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = l
}

func (s *Store) AddMeeting(m domain.Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings[m.ID] = m
}

func (s *Store) AddIntegration(i domain.Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrations[i.OrgID] = append(s.integrations[i.OrgID], i)
}

func (s *Store) AddWorkflow(w domain.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.OrgID] = append(s.workflows[w.OrgID], w)
}

func (s *Store) ListRecentTransactions(_ context.Context, orgID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Transaction(nil), s.transactions[orgID]...), nil
}

func (s *Store) ListPendingLeads(_ context.Context, orgID string) ([]domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Lead
	for _, l := range s.leads {
		if l.OrgID == orgID && l.Status == "pending" {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetLeadStatus(_ context.Context, leadID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return domain.NewNotFoundError("lead", leadID)
	}
	l.Status = status
	s.leads[leadID] = l
	return nil
}

// Lead returns a lead by id; test helper.
func (s *Store) Lead(id string) (domain.Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	return l, ok
}

func (s *Store) ListUpcomingMeetings(_ context.Context, orgID string) ([]domain.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Meeting
	for _, m := range s.meetings {
		if m.OrgID == orgID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeclineMeeting(_ context.Context, meetingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[meetingID]; !ok {
		return domain.NewNotFoundError("meeting", meetingID)
	}
	delete(s.meetings, meetingID)
	return nil
}

func (s *Store) ListIntegrations(_ context.Context, orgID string) ([]domain.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Integration(nil), s.integrations[orgID]...), nil
}

func (s *Store) ListWorkflows(_ context.Context, orgID string) ([]domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Workflow(nil), s.workflows[orgID]...), nil
}
