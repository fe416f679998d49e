package policy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/obs"
)

// Result is the overall outcome of an evaluation.
type Result string

const (
	ResultPass  Result = "pass"
	ResultWarn  Result = "warn"
	ResultBlock Result = "block"
)

// Severity of a single violation. Any hard violation blocks the booking.
type Severity string

const (
	SeveritySoft Severity = "soft"
	SeverityHard Severity = "hard"
)

const (
	RuleMaxCost           = "Max Cost Exceeded"
	RuleAdvanceBooking    = "Advance Booking Violation"
	RuleTravelClass       = "Travel Class Violation"
	RuleDeniedDestination = "Denied Destination"
)

// Violation is one broken rule.
type Violation struct {
	Policy   string   `json:"policy"`
	Severity Severity `json:"severity"`
	Details  string   `json:"details"`
}

func (v Violation) String() string {
	return v.Policy + ": " + v.Details
}

// Verdict is the engine output for one booking.
type Verdict struct {
	Result           Result      `json:"result"`
	ApprovalRequired bool        `json:"approval_required"`
	Violations       []Violation `json:"violations"`
}

// Subject is the part of a booking the rules look at.
type Subject struct {
	TotalAmount decimal.Decimal
	Currency    string
	TravelClass string
	Destination string
	StartDate   *time.Time
}

// Engine evaluates bookings against organization policy. It has no
// side effects besides metrics.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineAt returns an engine with a fixed clock.
func NewEngineAt(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Evaluate runs every rule and derives the verdict.
func (e *Engine) Evaluate(subject Subject, travelers []auth.Employee, settings Settings) Verdict {
	var violations []Violation

	if subject.TotalAmount.IsPositive() && subject.TotalAmount.GreaterThan(settings.MaxAmount) {
		sev := SeveritySoft
		if settings.CostCeilingHard {
			sev = SeverityHard
		}
		violations = append(violations, Violation{
			Policy:   RuleMaxCost,
			Severity: sev,
			Details:  fmt.Sprintf("Amount %s > Limit %s", money(subject.TotalAmount), money(settings.MaxAmount)),
		})
	}

	if subject.StartDate != nil {
		days := wholeDays(subject.StartDate.Sub(e.now()))
		if days < settings.MinAdvanceDays {
			violations = append(violations, Violation{
				Policy:   RuleAdvanceBooking,
				Severity: SeveritySoft,
				Details:  fmt.Sprintf("Booked %d days ahead, required %d", days, settings.MinAdvanceDays),
			})
		}
	}

	class := strings.ToLower(strings.TrimSpace(subject.TravelClass))
	if class == "business" || class == "first" {
		for _, t := range travelers {
			if eligible(t.JobTitle, settings.BusinessClassTitles) {
				continue
			}
			violations = append(violations, Violation{
				Policy:   RuleTravelClass,
				Severity: SeveritySoft,
				Details:  fmt.Sprintf("Traveler %s (%s) not eligible for %s", t.FullName, t.JobTitle, subject.TravelClass),
			})
		}
	}

	dest := strings.TrimSpace(subject.Destination)
	for _, denied := range settings.DeniedDestinations {
		if dest != "" && strings.EqualFold(dest, strings.TrimSpace(denied)) {
			violations = append(violations, Violation{
				Policy:   RuleDeniedDestination,
				Severity: SeverityHard,
				Details:  fmt.Sprintf("Travel to %s is not permitted", dest),
			})
			break
		}
	}

	v := derive(violations, settings.Mode)
	obs.RecordVerdict(string(v.Result), v.ApprovalRequired)
	return v
}

func derive(violations []Violation, mode ApprovalMode) Verdict {
	for _, v := range violations {
		if v.Severity == SeverityHard {
			return Verdict{Result: ResultBlock, ApprovalRequired: false, Violations: violations}
		}
	}
	out := Verdict{Result: ResultPass, Violations: violations}
	if len(violations) > 0 {
		out.Result = ResultWarn
	}
	if mode == ModeOnlyWhenNecessary {
		out.ApprovalRequired = len(violations) > 0
	} else {
		out.ApprovalRequired = true
	}
	return out
}

// Reasons flattens violations for error messages and audit details.
func Reasons(violations []Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.String())
	}
	return out
}

func eligible(title string, allowed []string) bool {
	for _, a := range allowed {
		if a != "" && strings.Contains(title, a) {
			return true
		}
	}
	return false
}

// wholeDays floors toward negative infinity so a start in the past yields a
// negative count.
func wholeDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}

// money prints whole amounts without decimals and cents with two places.
// Anything finer is printed exactly so a violation never reads as equal.
func money(d decimal.Decimal) string {
	switch {
	case d.Equal(d.Truncate(0)):
		return d.Truncate(0).String()
	case d.Equal(d.Round(2)):
		return d.StringFixed(2)
	default:
		return d.String()
	}
}
