package memory

import (
	"time"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

func inWindow(at time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && at.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !at.Before(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
