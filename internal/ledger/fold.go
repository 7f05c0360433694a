package ledger

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// Lot is the unspent remainder of a positive ledger entry.
type Lot struct {
	TransactionID uuid.UUID
	Type          enums.TransactionType
	Points        int64
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// ExpiredLot is a lot forfeited with points left on it. Materialized reports whether an
// EXPIRATION row already records the forfeiture.
type ExpiredLot struct {
	Lot
	Materialized bool
}

// Projection is the state obtained by replaying a membership's ledger.
type Projection struct {
	Balance  int64
	Open     []Lot
	Expired  []ExpiredLot
	Reversed map[uuid.UUID]bool
	// Debt is consumption that found no open lot. It stays zero for ledgers written
	// through the service.
	Debt int64
}

// Unmaterialized returns the forfeited lots that still need an EXPIRATION row.
func (p Projection) Unmaterialized() []ExpiredLot {
	var out []ExpiredLot
	for _, lot := range p.Expired {
		if !lot.Materialized && lot.Points > 0 {
			out = append(out, lot)
		}
	}
	return out
}

// ExpiredLot looks up a forfeited lot by the EARNING row that opened it.
func (p Projection) ExpiredLot(id uuid.UUID) (ExpiredLot, bool) {
	for _, lot := range p.Expired {
		if lot.TransactionID == id {
			return lot, true
		}
	}
	return ExpiredLot{}, false
}

// Fold replays rows in (created_at, id) order and returns the projection as of asOf.
//
// Positive deltas open lots; EARNING lots carry their expiry. Before each row is applied,
// lots whose expiry is at or before the row's timestamp are forfeited. Negative deltas
// consume open lots with the earliest expiry first and non-expiring lots last; a REVERSAL
// drains the lot of the row it reverses before touching any other. EXPIRATION rows only
// mark an already forfeited lot as materialized.
func Fold(rows []models.PointsTransaction, asOf time.Time) Projection {
	f := &folder{
		reversed: make(map[uuid.UUID]bool),
		expired:  make(map[uuid.UUID]int),
	}
	for _, row := range ordered(rows) {
		f.forfeit(row.CreatedAt)
		f.apply(row)
	}
	f.forfeit(asOf)
	return f.projection()
}

// SumDeltas is the plain sum of pointsDelta. It equals the folded balance once every
// forfeited lot has been materialized.
func SumDeltas(rows []models.PointsTransaction) int64 {
	var total int64
	for _, row := range rows {
		total += row.PointsDelta
	}
	return total
}

func ordered(rows []models.PointsTransaction) []models.PointsTransaction {
	out := make([]models.PointsTransaction, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

type folder struct {
	open     []Lot
	expired  map[uuid.UUID]int
	expList  []ExpiredLot
	reversed map[uuid.UUID]bool
	debt     int64
}

func (f *folder) forfeit(at time.Time) {
	kept := f.open[:0]
	for _, lot := range f.open {
		if lot.ExpiresAt != nil && !lot.ExpiresAt.After(at) {
			f.expire(lot)
			continue
		}
		kept = append(kept, lot)
	}
	f.open = kept
}

func (f *folder) expire(lot Lot) {
	if lot.Points <= 0 {
		return
	}
	f.expired[lot.TransactionID] = len(f.expList)
	f.expList = append(f.expList, ExpiredLot{Lot: lot})
}

func (f *folder) apply(row models.PointsTransaction) {
	if row.Type == enums.TransactionReversal && row.ReversalOfTransactionID != nil {
		f.reversed[*row.ReversalOfTransactionID] = true
	}

	if row.Type == enums.TransactionExpiration {
		if row.ReversalOfTransactionID == nil {
			return
		}
		target := *row.ReversalOfTransactionID
		if idx := f.openIndex(target); idx >= 0 {
			lot := f.open[idx]
			f.open = append(f.open[:idx], f.open[idx+1:]...)
			f.expire(lot)
		}
		if idx, ok := f.expired[target]; ok {
			f.expList[idx].Materialized = true
		}
		return
	}

	switch {
	case row.PointsDelta > 0:
		f.credit(row)
	case row.PointsDelta < 0:
		var preferred *uuid.UUID
		if row.Type == enums.TransactionReversal {
			preferred = row.ReversalOfTransactionID
		}
		f.consume(-row.PointsDelta, preferred)
	}
}

func (f *folder) credit(row models.PointsTransaction) {
	amount := row.PointsDelta
	if f.debt > 0 {
		paid := min(f.debt, amount)
		f.debt -= paid
		amount -= paid
	}
	if amount == 0 {
		return
	}
	lot := Lot{
		TransactionID: row.ID,
		Type:          row.Type,
		Points:        amount,
		CreatedAt:     row.CreatedAt,
	}
	if row.Type == enums.TransactionEarning && row.ExpiresAt != nil {
		expires := *row.ExpiresAt
		lot.ExpiresAt = &expires
	}
	f.open = append(f.open, lot)
}

func (f *folder) consume(amount int64, preferred *uuid.UUID) {
	if preferred != nil {
		if idx := f.openIndex(*preferred); idx >= 0 {
			amount = f.take(idx, amount)
		}
	}
	sort.SliceStable(f.open, func(i, j int) bool {
		return consumesBefore(f.open[i], f.open[j])
	})
	for i := range f.open {
		if amount == 0 {
			break
		}
		amount = f.take(i, amount)
	}
	f.dropEmpty()
	f.debt += amount
}

func (f *folder) take(idx int, amount int64) int64 {
	used := min(f.open[idx].Points, amount)
	f.open[idx].Points -= used
	return amount - used
}

func (f *folder) dropEmpty() {
	kept := f.open[:0]
	for _, lot := range f.open {
		if lot.Points > 0 {
			kept = append(kept, lot)
		}
	}
	f.open = kept
}

func (f *folder) openIndex(id uuid.UUID) int {
	for i, lot := range f.open {
		if lot.TransactionID == id {
			return i
		}
	}
	return -1
}

func consumesBefore(a, b Lot) bool {
	switch {
	case a.ExpiresAt != nil && b.ExpiresAt == nil:
		return true
	case a.ExpiresAt == nil && b.ExpiresAt != nil:
		return false
	case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
		return a.ExpiresAt.Before(*b.ExpiresAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (f *folder) projection() Projection {
	p := Projection{
		Open:     append([]Lot(nil), f.open...),
		Expired:  append([]ExpiredLot(nil), f.expList...),
		Reversed: f.reversed,
		Debt:     f.debt,
	}
	for _, lot := range f.open {
		p.Balance += lot.Points
	}
	p.Balance -= f.debt
	return p
}
