package imageagent

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// groupGoSafe runs fn in an errgroup goroutine and turns a panic into an
// error for that switch. A panicking submission is not restarted.
func groupGoSafe(group *errgroup.Group, name string, fn func() error) {
	if group == nil || fn == nil {
		return
	}
	group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked: %v\n%s\n", name, r, debug.Stack())
				err = errors.Errorf("%s panicked: %v", name, r)
			}
		}()
		return fn()
	})
}
