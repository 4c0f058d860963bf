package recon

import (
	"sort"
	"time"
)

// DayTolerance is the largest number of whole days between two similar transactions.
const DayTolerance = 1

// DuplicateGroup is a set of transactions sharing one external id.
type DuplicateGroup struct {
	ExternalID   string
	Transactions []Transaction
}

// Pair is two transactions matched by the similarity pass.
type Pair struct {
	A, B Transaction
}

// Result is the outcome of Match.
type Result struct {
	Duplicates []DuplicateGroup
	Pairs      []Pair
}

// Matched counts every transaction the result flags.
func (r Result) Matched() int {
	n := 2 * len(r.Pairs)
	for _, g := range r.Duplicates {
		n += len(g.Transactions)
	}
	return n
}

// IDs returns the ids of every flagged transaction in ascending order.
func (r Result) IDs() []int64 {
	ids := make([]int64, 0, r.Matched())
	for _, g := range r.Duplicates {
		for _, t := range g.Transactions {
			ids = append(ids, t.ID)
		}
	}
	for _, p := range r.Pairs {
		ids = append(ids, p.A.ID, p.B.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Match runs the duplicate pass then the similarity pass over txs.
//
// Duplicate pass: transactions with a non-empty external id are grouped;
// every group with more than one member is flagged in full, whatever its
// members' current state.
//
// Similarity pass: the transactions left over that are not already
// reconciled are walked by ascending id; each one takes the first later
// candidate with an equal amount, the same direction and at most
// DayTolerance whole days apart. A transaction is never paired twice.
//
// Match does not modify txs.
func Match(txs []Transaction) Result {
	sorted := make([]Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var res Result
	flagged := make(map[int64]bool, len(sorted))

	byExternal := make(map[string][]Transaction)
	var order []string
	for _, t := range sorted {
		if t.ExternalID == "" {
			continue
		}
		if _, ok := byExternal[t.ExternalID]; !ok {
			order = append(order, t.ExternalID)
		}
		byExternal[t.ExternalID] = append(byExternal[t.ExternalID], t)
	}
	for _, ext := range order {
		group := byExternal[ext]
		if len(group) < 2 {
			continue
		}
		res.Duplicates = append(res.Duplicates, DuplicateGroup{ExternalID: ext, Transactions: group})
		for _, t := range group {
			flagged[t.ID] = true
		}
	}

	candidates := sorted[:0:0]
	for _, t := range sorted {
		if !t.Reconciled && !flagged[t.ID] {
			candidates = append(candidates, t)
		}
	}

	for i := range candidates {
		a := candidates[i]
		if flagged[a.ID] {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			b := candidates[j]
			if flagged[b.ID] || !Similar(a, b) {
				continue
			}
			res.Pairs = append(res.Pairs, Pair{A: a, B: b})
			flagged[a.ID] = true
			flagged[b.ID] = true
			break
		}
	}

	return res
}

// Similar reports whether a and b have the same amount and direction and
// occurred at most DayTolerance whole days apart.
func Similar(a, b Transaction) bool {
	if !a.Amount.Equal(b.Amount) {
		return false
	}
	if a.Direction != b.Direction {
		return false
	}
	return WholeDays(a.OccurredAt, b.OccurredAt) <= DayTolerance
}

// WholeDays returns the absolute number of complete 24h periods between a and b.
func WholeDays(a, b time.Time) int64 {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return int64(d / (24 * time.Hour))
}
