package order

import "fmt"

// ActionType names a cart mutation.
type ActionType string

const (
	ActionAdd         ActionType = "add"
	ActionRemove      ActionType = "remove"
	ActionSetQuantity ActionType = "set_quantity"
	ActionClear       ActionType = "clear"
)

// Action is a single cart mutation. Line is used by add; ID and Quantity
// by remove and set_quantity.
type Action struct {
	Type     ActionType `json:"type"`
	Line     CartLine   `json:"line,omitempty"`
	ID       string     `json:"id,omitempty"`
	Quantity int        `json:"quantity,omitempty"`
}

// Validate reports whether the action carries what its type needs.
func (a Action) Validate() error {
	switch a.Type {
	case ActionAdd:
		if a.Line.ID == "" {
			return fmt.Errorf("add: line id is required")
		}
	case ActionRemove, ActionSetQuantity:
		if a.ID == "" {
			return fmt.Errorf("%s: id is required", a.Type)
		}
	case ActionClear:
	default:
		return fmt.Errorf("unknown cart action %q", a.Type)
	}
	return nil
}

// Reduce applies action to lines and returns the new cart. The input slice
// is never modified. Lines are keyed by ID; adding an existing ID bumps its
// quantity, and setting a quantity of zero or less removes the line.
// Unknown actions return a copy of the input.
func Reduce(lines []CartLine, action Action) []CartLine {
	switch action.Type {
	case ActionClear:
		return []CartLine{}

	case ActionAdd:
		qty := action.Line.Quantity
		if qty < 1 {
			qty = 1
		}
		out := make([]CartLine, 0, len(lines)+1)
		found := false
		for _, l := range lines {
			if l.ID == action.Line.ID {
				l.Quantity += qty
				found = true
			}
			out = append(out, l)
		}
		if !found {
			line := action.Line
			line.Quantity = qty
			out = append(out, line)
		}
		return out

	case ActionRemove:
		out := make([]CartLine, 0, len(lines))
		for _, l := range lines {
			if l.ID != action.ID {
				out = append(out, l)
			}
		}
		return out

	case ActionSetQuantity:
		out := make([]CartLine, 0, len(lines))
		for _, l := range lines {
			if l.ID == action.ID {
				if action.Quantity <= 0 {
					continue
				}
				l.Quantity = action.Quantity
			}
			out = append(out, l)
		}
		return out
	}

	out := make([]CartLine, len(lines))
	copy(out, lines)
	return out
}
