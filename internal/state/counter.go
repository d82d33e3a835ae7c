// ./internal/state/counter.go
package state

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// IncrementCycleNumber atomically increments the global harvest cycle
// counter and returns the new value.
func IncrementCycleNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		UPDATE cycle_counter
		SET current_cycle = current_cycle + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_cycle`

	var cycleNumber int
	err := DB.QueryRow(query).Scan(&cycleNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to increment cycle number: %w", err)
	}

	log.Debug().Int("cycle_number", cycleNumber).Msg("Incremented harvest cycle number")
	return cycleNumber, nil
}

// GetCurrentCycleNumber returns the current cycle number without incrementing.
func GetCurrentCycleNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var cycleNumber int
	err := DB.QueryRow(`SELECT current_cycle FROM cycle_counter WHERE id = 1`).Scan(&cycleNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to get current cycle number: %w", err)
	}
	return cycleNumber, nil
}
