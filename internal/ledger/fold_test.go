package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"pgregory.net/rapid"

	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

var foldBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func earning(points int64, at time.Time, expires *time.Time) models.PointsTransaction {
	return models.PointsTransaction{
		ID:          uuid.New(),
		Type:        enums.TransactionEarning,
		PointsDelta: points,
		ExpiresAt:   expires,
		CreatedAt:   at,
	}
}

func debit(txType enums.TransactionType, points int64, at time.Time) models.PointsTransaction {
	return models.PointsTransaction{
		ID:          uuid.New(),
		Type:        txType,
		PointsDelta: -points,
		CreatedAt:   at,
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestFoldConsumesEarliestExpiryFirst(t *testing.T) {
	soon := earning(100, foldBase, ptr(foldBase.AddDate(0, 0, 10)))
	later := earning(100, foldBase.Add(time.Minute), ptr(foldBase.AddDate(0, 0, 20)))
	forever := earning(100, foldBase.Add(2*time.Minute), nil)
	spend := debit(enums.TransactionRedeem, 150, foldBase.Add(time.Hour))

	p := Fold([]models.PointsTransaction{forever, spend, later, soon}, foldBase.AddDate(0, 0, 1))
	if p.Balance != 150 {
		t.Fatalf("expected 150, got %d", p.Balance)
	}
	remaining := map[uuid.UUID]int64{}
	for _, lot := range p.Open {
		remaining[lot.TransactionID] = lot.Points
	}
	if _, ok := remaining[soon.ID]; ok {
		t.Fatalf("earliest expiring lot should be drained first")
	}
	if remaining[later.ID] != 50 || remaining[forever.ID] != 100 {
		t.Fatalf("unexpected remainders: %v", remaining)
	}
}

func TestFoldForfeitsExpiredLots(t *testing.T) {
	expiring := earning(100, foldBase, ptr(foldBase.AddDate(0, 0, 10)))
	kept := earning(40, foldBase, nil)
	spend := debit(enums.TransactionRedeem, 30, foldBase.AddDate(0, 0, 1))
	rows := []models.PointsTransaction{expiring, kept, spend}

	before := Fold(rows, foldBase.AddDate(0, 0, 9))
	if before.Balance != 110 {
		t.Fatalf("expected 110 before expiry, got %d", before.Balance)
	}

	after := Fold(rows, foldBase.AddDate(0, 0, 10))
	if after.Balance != 40 {
		t.Fatalf("expected 40 once the lot expires, got %d", after.Balance)
	}
	pending := after.Unmaterialized()
	if len(pending) != 1 || pending[0].TransactionID != expiring.ID || pending[0].Points != 70 {
		t.Fatalf("unexpected pending expirations: %+v", pending)
	}
	if SumDeltas(rows) == after.Balance {
		t.Fatalf("sum should differ until the forfeiture is materialized")
	}

	expiredID := expiring.ID
	expiration := models.PointsTransaction{
		ID:                      uuid.New(),
		Type:                    enums.TransactionExpiration,
		PointsDelta:             -70,
		ReversalOfTransactionID: &expiredID,
		CreatedAt:               foldBase.AddDate(0, 0, 11),
	}
	rows = append(rows, expiration)
	final := Fold(rows, foldBase.AddDate(0, 0, 12))
	if final.Balance != 40 || SumDeltas(rows) != 40 {
		t.Fatalf("expected materialized balance 40, got fold=%d sum=%d", final.Balance, SumDeltas(rows))
	}
	if len(final.Unmaterialized()) != 0 {
		t.Fatalf("expected no pending expirations")
	}
}

func TestFoldReversalDrainsOriginalLot(t *testing.T) {
	first := earning(100, foldBase, ptr(foldBase.AddDate(0, 0, 5)))
	second := earning(100, foldBase.Add(time.Minute), ptr(foldBase.AddDate(0, 0, 30)))
	secondID := second.ID
	reversal := models.PointsTransaction{
		ID:                      uuid.New(),
		Type:                    enums.TransactionReversal,
		PointsDelta:             -100,
		ReversalOfTransactionID: &secondID,
		CreatedAt:               foldBase.Add(time.Hour),
	}

	p := Fold([]models.PointsTransaction{first, second, reversal}, foldBase.Add(2*time.Hour))
	if !p.Reversed[second.ID] {
		t.Fatalf("expected second earning to be marked reversed")
	}
	if len(p.Open) != 1 || p.Open[0].TransactionID != first.ID || p.Open[0].Points != 100 {
		t.Fatalf("reversal should drain its own lot, got %+v", p.Open)
	}
}

func TestFoldOrdersByCreatedAtThenID(t *testing.T) {
	a := earning(10, foldBase, nil)
	b := debit(enums.TransactionAdjustment, 10, foldBase)
	// Same timestamp: whichever id sorts first is applied first.
	first, second := a, b
	if string(b.ID[:]) < string(a.ID[:]) {
		first, second = b, a
	}
	p1 := Fold([]models.PointsTransaction{first, second}, foldBase)
	p2 := Fold([]models.PointsTransaction{second, first}, foldBase)
	if p1.Balance != p2.Balance || p1.Debt != p2.Debt {
		t.Fatalf("fold must not depend on input order: %+v vs %+v", p1, p2)
	}
}

func TestFoldMatchesSumWithoutExpiry(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(rt, "n")
		var (
			rows    []models.PointsTransaction
			running int64
		)
		at := foldBase
		for i := 0; i < n; i++ {
			at = at.Add(time.Duration(rapid.IntRange(1, 600).Draw(rt, "gap")) * time.Second)
			if running > 0 && rapid.Bool().Draw(rt, "spend") {
				amount := rapid.Int64Range(1, running).Draw(rt, "amount")
				rows = append(rows, debit(enums.TransactionAdjustment, amount, at))
				running -= amount
				continue
			}
			amount := rapid.Int64Range(1, 1000).Draw(rt, "earn")
			rows = append(rows, earning(amount, at, nil))
			running += amount
		}

		p := Fold(rows, at)
		if p.Balance != SumDeltas(rows) || p.Balance != running {
			rt.Fatalf("fold %d, sum %d, running %d", p.Balance, SumDeltas(rows), running)
		}
		if p.Debt != 0 {
			rt.Fatalf("unexpected debt %d", p.Debt)
		}
	})
}
