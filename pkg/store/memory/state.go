package memory

import (
	"sort"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/bank"
	"bank-recon/pkg/recon"
)

type state struct {
	seq       int64
	accounts  map[int64]bank.Account
	bankTxs   map[int64]bank.Transaction
	systemTxs map[int64]recon.Transaction
	recons    map[int64]recon.Reconciliation
	audit     []audit.Entry
}

func newState() *state {
	return &state{
		accounts:  make(map[int64]bank.Account),
		bankTxs:   make(map[int64]bank.Transaction),
		systemTxs: make(map[int64]recon.Transaction),
		recons:    make(map[int64]recon.Reconciliation),
	}
}

// nextID hands out ids from one sequence shared by every table.
func (st *state) nextID() int64 {
	st.seq++
	for st.taken(st.seq) {
		st.seq++
	}
	return st.seq
}

func (st *state) taken(id int64) bool {
	_, a := st.accounts[id]
	_, b := st.bankTxs[id]
	_, c := st.systemTxs[id]
	_, d := st.recons[id]
	return a || b || c || d
}

// clone copies the maps. Values are stored by value and pointer fields are
// replaced, never written through, so a shallow copy per entry suffices.
func (st *state) clone() *state {
	c := &state{
		seq:       st.seq,
		accounts:  make(map[int64]bank.Account, len(st.accounts)),
		bankTxs:   make(map[int64]bank.Transaction, len(st.bankTxs)),
		systemTxs: make(map[int64]recon.Transaction, len(st.systemTxs)),
		recons:    make(map[int64]recon.Reconciliation, len(st.recons)),
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.bankTxs {
		c.bankTxs[k] = v
	}
	for k, v := range st.systemTxs {
		c.systemTxs[k] = v
	}
	for k, v := range st.recons {
		c.recons[k] = v
	}
	return c
}

func (st *state) getReconciliation(id int64) (*recon.Reconciliation, error) {
	r, ok := st.recons[id]
	if !ok {
		return nil, bank.NotFound("reconciliation", id)
	}
	return &r, nil
}

func (st *state) listReconciliations(scope recon.Scope, w recon.Window) []recon.Reconciliation {
	var out []recon.Reconciliation
	for _, r := range st.recons {
		if r.Scope() == scope && w.Contains(r.Start) && w.Contains(r.End) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *state) listTransactions(scope recon.Scope, w recon.Window, f recon.Filter) []recon.Transaction {
	var out []recon.Transaction
	for _, t := range st.systemTxs {
		if t.Scope() == scope && w.Contains(t.OccurredAt) && f.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *state) getAccount(id int64) (*bank.Account, error) {
	a, ok := st.accounts[id]
	if !ok {
		return nil, bank.NotFound("account", id)
	}
	return &a, nil
}
