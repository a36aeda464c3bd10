package detection

import (
	"strings"
	"testing"
)

func TestMortalityAboveLeadsWithVeterinaryAction(t *testing.T) {
	actions := recommendActions("mortality_rate", DirectionAbove)
	if len(actions) == 0 {
		t.Fatal("expected actions for elevated mortality")
	}
	if !strings.Contains(strings.ToLower(actions[0]), "veterinary") {
		t.Errorf("first action for elevated mortality must concern veterinary review, got %q", actions[0])
	}
}

func TestActionsCappedAtFour(t *testing.T) {
	for metric, byDirection := range actionTable {
		for direction := range byDirection {
			actions := recommendActions(metric, direction)
			if len(actions) > maxRecommendedActions {
				t.Errorf("%s/%s: %d actions exceeds cap of %d", metric, direction, len(actions), maxRecommendedActions)
			}
			if len(actions) == 0 {
				t.Errorf("%s/%s: table entry yields no actions", metric, direction)
			}
		}
	}
}

func TestUnknownMetricGetsGenericActions(t *testing.T) {
	actions := recommendActions("ammonia_ppm", DirectionAbove)
	if len(actions) != len(genericActions) {
		t.Fatalf("unknown metric: got %d actions, want the %d generic ones", len(actions), len(genericActions))
	}
	for i, a := range actions {
		if a != genericActions[i] {
			t.Errorf("generic action %d: got %q, want %q", i, a, genericActions[i])
		}
	}
}

func TestUnknownDirectionGetsGenericActions(t *testing.T) {
	// mortality_rate only defines the above direction.
	actions := recommendActions("mortality_rate", DirectionBelow)
	if len(actions) != len(genericActions) {
		t.Errorf("undefined direction should fall back to generic actions, got %v", actions)
	}
}

func TestRecommendActionsReturnsCopies(t *testing.T) {
	first := recommendActions("temperature_c", DirectionAbove)
	first[0] = "mutated"
	second := recommendActions("temperature_c", DirectionAbove)
	if second[0] == "mutated" {
		t.Error("mutating a returned slice must not affect the shared table")
	}
}
