// Package schedule reads the cron schedules carried by task actions and
// works out when they would next fire. It never starts runs itself.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/robfig/cron/v3"
)

// PreviewCount is how many upcoming fire times a preview lists
const PreviewCount = 3

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse parses a five-field cron expression or a descriptor such as @daily
func Parse(expr string) (cron.Schedule, error) {
	return parser.Parse(strings.TrimSpace(expr))
}

// Next returns the next n fire times of expr after now
func Next(expr string, now time.Time, n int) ([]time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := now
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// Expressions returns the non-empty schedule expressions an action carries,
// from data.schedule and from data.trigger.schedule or data.trigger.cron
func Expressions(a domain.PendingAction) []string {
	candidates := []any{a.Data["schedule"]}
	if trigger, ok := a.Data["trigger"].(map[string]any); ok {
		candidates = append(candidates, trigger["schedule"], trigger["cron"])
	}
	var out []string
	for _, c := range candidates {
		expr, ok := c.(string)
		if !ok || strings.TrimSpace(expr) == "" {
			continue
		}
		out = append(out, expr)
	}
	return out
}

// Preview is the upcoming fire times of one schedule expression
type Preview struct {
	Expr string
	Next []time.Time
	Err  error
}

// ForAction previews every schedule the action carries
func ForAction(a domain.PendingAction, now time.Time) []Preview {
	exprs := Expressions(a)
	out := make([]Preview, 0, len(exprs))
	for _, expr := range exprs {
		next, err := Next(expr, now, PreviewCount)
		out = append(out, Preview{Expr: expr, Next: next, Err: err})
	}
	return out
}

// ForBatch previews the schedules of every action, keyed by position
func ForBatch(batch *domain.ActionBatch, now time.Time) map[int][]Preview {
	out := make(map[int][]Preview)
	if batch == nil {
		return out
	}
	for i, a := range batch.Actions {
		if p := ForAction(a, now); len(p) > 0 {
			out[i] = p
		}
	}
	return out
}

// Summary renders the preview on one line, e.g.
// `"0 9 * * *" next Tue 09:00 (3 hours from now)`
func (p Preview) Summary() string {
	if p.Err != nil {
		return fmt.Sprintf("%q is not a valid schedule: %v", p.Expr, p.Err)
	}
	if len(p.Next) == 0 {
		return fmt.Sprintf("%q never fires", p.Expr)
	}
	first := p.Next[0]
	return fmt.Sprintf("%q next %s (%s)", p.Expr, first.Format("Mon Jan 2 15:04"), humanize.Time(first))
}
