package session

import (
	"encoding/json"
	"fmt"
)

// row is the column form shared by the SQL backends.
type row struct {
	history     []byte
	currentTask []byte
	preferences []byte
}

func encodeRow(c Context) (row, error) {
	var (
		r   row
		err error
	)
	history := c.History
	if history == nil {
		history = []Turn{}
	}
	if r.history, err = json.Marshal(history); err != nil {
		return row{}, fmt.Errorf("encode history: %w", err)
	}
	if c.CurrentTask != nil {
		if r.currentTask, err = json.Marshal(c.CurrentTask); err != nil {
			return row{}, fmt.Errorf("encode current task: %w", err)
		}
	}
	prefs := c.Preferences
	if prefs == nil {
		prefs = map[string]any{}
	}
	if r.preferences, err = json.Marshal(prefs); err != nil {
		return row{}, fmt.Errorf("encode preferences: %w", err)
	}
	return r, nil
}

func (r row) decodeInto(c *Context) error {
	c.History = []Turn{}
	if len(r.history) > 0 {
		if err := json.Unmarshal(r.history, &c.History); err != nil {
			return fmt.Errorf("decode history: %w", err)
		}
	}
	if len(r.currentTask) > 0 && string(r.currentTask) != "null" {
		if err := json.Unmarshal(r.currentTask, &c.CurrentTask); err != nil {
			return fmt.Errorf("decode current task: %w", err)
		}
	}
	c.Preferences = map[string]any{}
	if len(r.preferences) > 0 {
		if err := json.Unmarshal(r.preferences, &c.Preferences); err != nil {
			return fmt.Errorf("decode preferences: %w", err)
		}
	}
	return nil
}
