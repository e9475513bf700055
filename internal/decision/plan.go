package decision

import (
	"time"

	"github.com/perzequiel/gerald-gateway/internal/idgen"
)

// Plan shape defaults.
const (
	DefaultInstallmentsCount = 4
	DefaultDaysBetween       = 14
)

// BuildPlan splits total evenly across the installment schedule. Integer
// division leaves a remainder on the trailing installment so the amounts
// always sum back to the total.
func BuildPlan(decisionID, userID string, totalCents int64, createdAt time.Time) *Plan {
	p := &Plan{
		ID:                idgen.New(),
		DecisionID:        decisionID,
		UserID:            userID,
		TotalCents:        totalCents,
		InstallmentsCount: DefaultInstallmentsCount,
		DaysBetween:       DefaultDaysBetween,
		CreatedAt:         createdAt,
	}

	base := totalCents / int64(p.InstallmentsCount)
	remainder := totalCents % int64(p.InstallmentsCount)

	for i := 1; i <= p.InstallmentsCount; i++ {
		amount := base
		if i == p.InstallmentsCount {
			amount += remainder
		}
		p.Installments = append(p.Installments, Installment{
			ID:          idgen.New(),
			PlanID:      p.ID,
			DueDate:     createdAt.AddDate(0, 0, i*p.DaysBetween),
			AmountCents: amount,
			Status:      InstallmentPending,
			CreatedAt:   createdAt,
		})
	}
	return p
}
