package application

import (
	"github.com/example/panel-scheduler/internal/recurrence"
)

// armModeKeywords maps mode tokens appearing in expressions ("in away mode").
var armModeKeywords = map[string]ArmMode{
	"home":   ArmModeHome,
	"away":   ArmModeAway,
	"night":  ArmModeNight,
	"custom": ArmModeCustom,
}

// ParseAction extracts the security action from a schedule expression. It is
// the sibling rule to the recurrence parser and shares its tokenizer, so
// "arm zone 3 every weekday at 9:00 pm in night mode" scans consistently in
// both. The zero Action is returned when no action keyword is present;
// callers decide whether that is an error.
//
// An arm action without an explicit mode defaults to away, matching the
// panel's arming default.
func ParseAction(expression string) Action {
	tokens := recurrence.Tokenize(expression)

	var (
		verb   ActionType
		zoneID string
		mode   ArmMode
	)

	for i, token := range tokens {
		switch token {
		case "arm":
			if verb == "" {
				verb = ActionArm
			}
		case "disarm":
			if verb == "" {
				verb = ActionDisarm
			}
		case "zone":
			if zoneID == "" && i+1 < len(tokens) {
				zoneID = tokens[i+1]
			}
		default:
			if m, ok := armModeKeywords[token]; ok && mode == "" {
				mode = m
			}
		}
	}

	if verb == "" {
		return Action{}
	}

	action := Action{Type: verb}
	if zoneID != "" {
		if verb == ActionArm {
			action.Type = ActionArmZone
		} else {
			action.Type = ActionDisarmZone
		}
		action.ZoneID = zoneID
	}
	if action.Arms() {
		if mode == "" {
			mode = ArmModeAway
		}
		action.Mode = mode
	}
	return action
}

// validateAction records field errors for an action that cannot be executed.
func validateAction(action Action, vErr *ValidationError) {
	switch action.Type {
	case ActionArm, ActionArmZone:
		if !validArmMode(action.Mode) {
			vErr.add("mode", "mode must be one of home, away, night, custom")
		}
	case ActionDisarm, ActionDisarmZone:
		if action.Mode != "" {
			vErr.add("mode", "mode applies only to arm actions")
		}
	case "":
		vErr.add("action", "action is required")
		return
	default:
		vErr.add("action", "unknown action type")
		return
	}

	if action.TargetsZone() && action.ZoneID == "" {
		vErr.add("zone_id", "zone id is required for zone actions")
	}
	if !action.TargetsZone() && action.ZoneID != "" {
		vErr.add("zone_id", "zone id applies only to zone actions")
	}
}
