package utils

import (
	"fmt"
	"strconv"
)

// MaxHistoryLimit caps the page size accepted on chat history endpoints.
const MaxHistoryLimit = 500

func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// ParseLimit reads a positive page size, returning def when raw is empty.
func ParseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxHistoryLimit {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", MaxHistoryLimit)
	}
	return n, nil
}
