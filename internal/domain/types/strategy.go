package types

import "fmt"

// Strategy is the closed set of driver selection strategies.
// Keeping it a dedicated type lets the engine switch over it exhaustively
// instead of falling through on unknown strings.
type Strategy int

const (
	StrategyProximity Strategy = iota
	StrategyZoneBalanced
	StrategyPerformance
	StrategyBatched
)

func (s Strategy) String() string {
	switch s {
	case StrategyProximity:
		return "proximity"
	case StrategyZoneBalanced:
		return "zone_balanced"
	case StrategyPerformance:
		return "performance"
	case StrategyBatched:
		return "batched"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy maps the wire representation to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "proximity", "":
		return StrategyProximity, nil
	case "zone_balanced":
		return StrategyZoneBalanced, nil
	case "performance":
		return StrategyPerformance, nil
	case "batched":
		return StrategyBatched, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}
