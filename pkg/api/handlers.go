package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/bank"
	"bank-recon/pkg/integration"
	"bank-recon/pkg/recon"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// parseBound accepts RFC 3339 or a plain date. A plain end date covers the
// whole day.
func parseBound(name, value string, end bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, badRequest(name+" must be RFC 3339 or YYYY-MM-DD", value)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parseID(name, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, badRequest(name+" must be an integer", value)
	}
	return id, nil
}

func pathID(r *http.Request) (int64, error) {
	return parseID("id", mux.Vars(r)["id"])
}

// scopeAndWindow reads company_id, bank_id, start and end from the query.
// Missing values are left zero for the domain to reject.
func scopeAndWindow(r *http.Request) (recon.Scope, recon.Window, error) {
	q := r.URL.Query()
	var (
		scope recon.Scope
		w     recon.Window
		err   error
	)
	if scope.CompanyID, err = parseID("company_id", q.Get("company_id")); err != nil {
		return scope, w, err
	}
	if scope.BankID, err = parseID("bank_id", q.Get("bank_id")); err != nil {
		return scope, w, err
	}
	if w.Start, err = parseBound("start", q.Get("start"), false); err != nil {
		return scope, w, err
	}
	if w.End, err = parseBound("end", q.Get("end"), true); err != nil {
		return scope, w, err
	}
	return scope, w, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body", err.Error())
	}
	return nil
}

type startRequest struct {
	CompanyID int64  `json:"company_id"`
	BankID    int64  `json:"bank_id"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

func (s *Server) handleStartReconciliation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := parseBound("start", req.Start, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseBound("end", req.End, true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	run, err := s.deps.Recon.Start(r.Context(), audit.ActorFrom(r.Context()),
		recon.Scope{CompanyID: req.CompanyID, BankID: req.BankID},
		recon.Window{Start: start, End: end})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleProcessReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := s.deps.Recon.Process(r.Context(), audit.ActorFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := s.deps.Recon.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListReconciliations(w http.ResponseWriter, r *http.Request) {
	scope, win, err := scopeAndWindow(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	runs, err := s.deps.Recon.List(r.Context(), scope, win)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []recon.Reconciliation{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	s.listTransactions(w, r, s.deps.Recon.Pending)
}

func (s *Server) handleReconciled(w http.ResponseWriter, r *http.Request) {
	s.listTransactions(w, r, s.deps.Recon.Reconciled)
}

type transactionLister func(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Transaction, error)

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request, list transactionLister) {
	scope, win, err := scopeAndWindow(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := list(r.Context(), scope, win)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []recon.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

type balanceResponse struct {
	CompanyID int64           `json:"company_id"`
	BankID    int64           `json:"bank_id"`
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	Balance   decimal.Decimal `json:"balance"`
}

func (s *Server) handleReconciledBalance(w http.ResponseWriter, r *http.Request) {
	scope, win, err := scopeAndWindow(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bal, err := s.deps.Recon.ReconciledBalance(r.Context(), scope, win)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		CompanyID: scope.CompanyID,
		BankID:    scope.BankID,
		Start:     win.Start,
		End:       win.End,
		Balance:   bal,
	})
}

func (s *Server) handleSyncAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Integration.SyncTransactions(r.Context(), audit.ActorFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type companySyncResponse struct {
	Results []integration.SyncResult `json:"results"`
	Error   *ErrorResponse           `json:"error,omitempty"`
}

// handleSyncCompany reports partial success: results that completed are
// returned alongside the first failure.
func (s *Server) handleSyncCompany(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var banks []string
	if raw := r.URL.Query().Get("banks"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			banks = append(banks, strings.TrimSpace(b))
		}
	}

	results, err := s.deps.Integration.SyncCompany(r.Context(), audit.ActorFrom(r.Context()), id, banks...)
	if err != nil && len(results) == 0 {
		writeError(w, r, err)
		return
	}

	resp := companySyncResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []integration.SyncResult{}
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
		e := errorBody(err)
		resp.Error = &e
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleRefreshBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bal, err := s.deps.Integration.RefreshBalance(r.Context(), audit.ActorFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

type webhookRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req webhookRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Integration.RegisterWebhook(r.Context(), audit.ActorFrom(r.Context()), id, req.URL); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account_id": id, "url": req.URL, "registered": true})
}

func (s *Server) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := s.deps.Integration.CheckAccountStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account_id": id, "active": active})
}

func (s *Server) handleAccountDetails(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	details, err := s.deps.Integration.AccountDetails(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type reconcileRequest struct {
	SystemTransactionID int64 `json:"system_transaction_id"`
}

func (s *Server) handleReconcileTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reconcileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SystemTransactionID <= 0 {
		writeError(w, r, badRequest("system_transaction_id must be positive", strconv.FormatInt(req.SystemTransactionID, 10)))
		return
	}
	err = s.deps.Integration.ReconcileTransaction(r.Context(), audit.ActorFrom(r.Context()), id, req.SystemTransactionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnreconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Integration.Unreconcile(r.Context(), audit.ActorFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebhook is unauthenticated. The payload only ever touches the
// account it names.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxWebhookBytes))
	if err != nil {
		writeError(w, r, badRequest("webhook payload unreadable or too large", err.Error()))
		return
	}
	code := mux.Vars(r)["bank"]
	if err := s.deps.Integration.DispatchWebhook(r.Context(), code, payload); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type errorCodeResponse struct {
	Code    string `json:"code"`
	Bank    string `json:"bank,omitempty"`
	Kind    string `json:"kind"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// handleErrorCode explains a code returned in an error body.
func (s *Server) handleErrorCode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	entry, bankCode, ok := bank.LookupCode(code)
	if !ok {
		writeError(w, r, bank.NotFound("error code", code))
		return
	}
	writeJSON(w, http.StatusOK, errorCodeResponse{
		Code:    entry.Code,
		Bank:    bankCode,
		Kind:    entry.Kind.String(),
		Status:  entry.Kind.HTTPStatus(),
		Message: entry.Message,
	})
}
