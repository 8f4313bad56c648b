package main

import (
	"fmt"
	"strconv"
)

// launcherEnv lists (rank, size) variable pairs set by common MPI launchers,
// checked in order.
var launcherEnv = [][2]string{
	{"OMPI_COMM_WORLD_RANK", "OMPI_COMM_WORLD_SIZE"},
	{"PMI_RANK", "PMI_SIZE"},
}

// resolveWorld picks this process's rank and the world size. Flags win; a
// negative flag value means unset and falls back to the launcher
// environment, then to a single-rank world.
func resolveWorld(rankFlag, workersFlag int, getenv func(string) string) (rank, size int, err error) {
	rank, size = 0, 1
	for _, pair := range launcherEnv {
		r, s := getenv(pair[0]), getenv(pair[1])
		if r == "" || s == "" {
			continue
		}
		if rank, err = strconv.Atoi(r); err != nil {
			return 0, 0, fmt.Errorf("launch: %s: %w", pair[0], err)
		}
		if size, err = strconv.Atoi(s); err != nil {
			return 0, 0, fmt.Errorf("launch: %s: %w", pair[1], err)
		}
		break
	}

	if rankFlag >= 0 {
		rank = rankFlag
	}
	if workersFlag >= 0 {
		size = workersFlag
	}
	if size < 1 {
		return 0, 0, fmt.Errorf("launch: world size must be >= 1, got %d", size)
	}
	if rank < 0 || rank >= size {
		return 0, 0, fmt.Errorf("launch: rank %d outside [0,%d)", rank, size)
	}
	return rank, size, nil
}
