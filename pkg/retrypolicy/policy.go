// Package retrypolicy decides how many times each failure category may
// re-queue a task. The per-category caps are fixed; the global retry budget
// can only tighten them, never widen them.
package retrypolicy

import "github.com/Andyyyy64/opentiger/pkg/classify"

// CategoryLimit is the per-category maximum retry count. Permission and
// policy failures carry a cap of 0: they are never re-queued regardless of
// the global budget.
var CategoryLimit = map[classify.Category]int{
	classify.CategorySetup:        2,
	classify.CategoryModel:        2,
	classify.CategoryFlaky:        3,
	classify.CategoryPermission:   0,
	classify.CategoryPolicy:       0,
	classify.CategoryTimeout:      2,
	classify.CategoryVerification: 2,
	classify.CategoryUnknown:      1,
}

// ResolveRetryLimit returns the effective retry cap for a category under
// the global budget. A negative globalLimit means unlimited: the category
// cap applies directly. Otherwise the result is the smaller of the two.
func ResolveRetryLimit(category classify.Category, globalLimit int) int {
	limit, ok := CategoryLimit[category]
	if !ok {
		limit = CategoryLimit[classify.CategoryUnknown]
	}
	if globalLimit < 0 {
		return limit
	}
	if globalLimit < limit {
		return globalLimit
	}
	return limit
}
