package core

import (
	"context"
	"errors"
	"fmt"
)

// StartPlugins starts every plugin implementing Starter, in order. If one
// fails, the ones already started are closed again.
func StartPlugins(ctx context.Context, plugins []Plugin) error {
	var started []Starter
	for _, plugin := range plugins {
		starter, ok := plugin.(Starter)
		if !ok {
			continue
		}
		if err := starter.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Close()
			}
			return fmt.Errorf("start %s: %w", plugin.ID(), err)
		}
		started = append(started, starter)
	}
	return nil
}

// ClosePlugins closes every Starter and joins their errors.
func ClosePlugins(plugins []Plugin) error {
	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		starter, ok := plugins[i].(Starter)
		if !ok {
			continue
		}
		if err := starter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", plugins[i].ID(), err))
		}
	}
	return errors.Join(errs...)
}
