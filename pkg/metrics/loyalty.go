package metrics

import "github.com/prometheus/client_golang/prometheus"

// LoyaltyMetrics counts domain outcomes of the ledger, tier evaluator, usage reconciler
// and referral flows. A nil receiver is a no-op so services can run without a registry.
type LoyaltyMetrics struct {
	transactions        *prometheus.CounterVec
	insufficientBalance prometheus.Counter
	conflicts           *prometheus.CounterVec
	balanceDrift        prometheus.Counter
	usageDrift          *prometheus.CounterVec
	tierChanges         *prometheus.CounterVec
	referralRewards     prometheus.Counter
}

func NewLoyaltyMetrics(reg prometheus.Registerer) *LoyaltyMetrics {
	if reg == nil {
		return &LoyaltyMetrics{}
	}
	m := &LoyaltyMetrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transactions_total",
			Help:      "Points transactions appended, by type.",
		}, []string{"type"}),
		insufficientBalance: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_insufficient_balance_total",
			Help:      "Appends rejected because the balance would go negative.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Optimistic version conflicts, by component.",
		}, []string{"component"}),
		balanceDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_balance_drift_total",
			Help:      "Cached balances corrected by a recompute.",
		}),
		usageDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_drift_total",
			Help:      "Usage counters corrected by clamp or recount, by resource.",
		}, []string{"resource", "source"}),
		tierChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_changes_total",
			Help:      "Tier status transitions, by change type.",
		}, []string{"change_type"}),
		referralRewards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_rewards_granted_total",
			Help:      "Referral bonuses granted.",
		}),
	}
	reg.MustRegister(m.transactions, m.insufficientBalance, m.conflicts, m.balanceDrift, m.usageDrift, m.tierChanges, m.referralRewards)
	return m
}

func (m *LoyaltyMetrics) IncTransaction(txType string) {
	if m == nil || m.transactions == nil {
		return
	}
	m.transactions.WithLabelValues(normalizeLabel(txType)).Inc()
}

func (m *LoyaltyMetrics) IncInsufficientBalance() {
	if m == nil || m.insufficientBalance == nil {
		return
	}
	m.insufficientBalance.Inc()
}

func (m *LoyaltyMetrics) IncConflict(component string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(component)).Inc()
}

func (m *LoyaltyMetrics) IncBalanceDrift() {
	if m == nil || m.balanceDrift == nil {
		return
	}
	m.balanceDrift.Inc()
}

// IncUsageDrift records a corrected counter. source is "clamp" or "recount".
func (m *LoyaltyMetrics) IncUsageDrift(resource, source string) {
	if m == nil || m.usageDrift == nil {
		return
	}
	m.usageDrift.WithLabelValues(normalizeLabel(resource), normalizeLabel(source)).Inc()
}

func (m *LoyaltyMetrics) IncTierChange(changeType string) {
	if m == nil || m.tierChanges == nil {
		return
	}
	m.tierChanges.WithLabelValues(normalizeLabel(changeType)).Inc()
}

func (m *LoyaltyMetrics) IncReferralReward() {
	if m == nil || m.referralRewards == nil {
		return
	}
	m.referralRewards.Inc()
}
