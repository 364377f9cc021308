package partitioner

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

type (
	PartitionPlan struct {
		Func string
		As   string
	}

	PartitionFunc func(t time.Time) string
)

var (
	Functions = map[string]PartitionFunc{
		"toYear": func(t time.Time) string {
			return fmt.Sprint(t.Year())
		},
		"toMonth": func(t time.Time) string {
			return fmt.Sprint(int(t.Month()))
		},
		"toDay": func(t time.Time) string {
			return fmt.Sprint(t.Day())
		},
		"toHour": func(t time.Time) string {
			return fmt.Sprint(t.Hour())
		},
		"toYearDay": func(t time.Time) string {
			return fmt.Sprint(t.YearDay())
		},
		"toWeekDay": func(t time.Time) string {
			return fmt.Sprint(t.Weekday())
		},
	}

	ErrFuncNotFound = errors.New("partition function not found")
)

// ParsePlans parses a comma separated list like "toYear,toMonth". Each plan is named after its
// function without the "to" prefix, lower cased: toYearDay -> yearday.
func ParsePlans(s string) ([]PartitionPlan, error) {
	var plans []PartitionPlan
	for _, fn := range strings.Split(s, ",") {
		fn = strings.TrimSpace(fn)
		if fn == "" {
			continue
		}
		if _, ok := Functions[fn]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrFuncNotFound, fn)
		}
		plans = append(plans, PartitionPlan{
			Func: fn,
			As:   strings.ToLower(strings.TrimPrefix(fn, "to")),
		})
	}
	return plans, nil
}

// GetPartition renders the plans for t, e.g. year=2026/month=10.
func GetPartition(t time.Time, plans []PartitionPlan) (string, error) {
	var finalParts []string
	for _, plan := range plans {
		f, ok := Functions[plan.Func]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrFuncNotFound, plan.Func)
		}
		finalParts = append(finalParts, fmt.Sprintf("%s=%s", plan.As, f(t)))
	}
	return strings.Join(finalParts, "/"), nil
}

// PartitionKey inserts the partition between the directory and the base name of key.
// With no plans the key is returned unchanged.
func PartitionKey(key string, t time.Time, plans []PartitionPlan) (string, error) {
	if len(plans) == 0 {
		return key, nil
	}
	part, err := GetPartition(t, plans)
	if err != nil {
		return "", err
	}
	dir, base := path.Split(key)
	return dir + part + "/" + base, nil
}
