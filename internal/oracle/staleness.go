// Package oracle reads price aggregator rounds and guards them against
// staleness.
package oracle

import (
	"fmt"
	"strconv"

	xerrors "flowforge/internal/errors"
)

// CheckStaleness rejects a reading older than maxAge seconds. A nil window
// disables the check. An updatedAt of zero means the feed was never updated
// and always fails when a window is configured.
func CheckStaleness(feed string, updatedAt, now uint64, maxAge *uint64) error {
	if maxAge == nil {
		return nil
	}
	window := *maxAge
	stale := updatedAt == 0
	if !stale && now > updatedAt {
		stale = now-updatedAt > window
	}
	if !stale {
		return nil
	}
	return xerrors.New(xerrors.CodeStaleReading,
		fmt.Sprintf("stale price for %s: updatedAt=%d, now=%d, maxAge=%ds", feed, updatedAt, now, window),
		xerrors.WithMetadata("feed", feed),
		xerrors.WithMetadata("updatedAt", strconv.FormatUint(updatedAt, 10)),
		xerrors.WithMetadata("now", strconv.FormatUint(now, 10)),
		xerrors.WithMetadata("maxAge", strconv.FormatUint(window, 10)),
	)
}
