package coordinator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/log"
)

// OpenApplication resolves a bundle id or path to a running instance,
// launching one when needed.
//
// Instance selection when several are running: prefer instances with a
// regular activation policy, and among those the most recently launched.
// Picking an arbitrary "first" is how you end up driving a background
// helper process instead of the app the user sees.
func (c *Coordinator) OpenApplication(ctx context.Context, bundleIDOrPath string) (ax.AppInfo, error) {
	res, err := c.Perform(ctx, Job{
		Kind: KindOpenApp,
		Run: func(ctx context.Context, _ *Result) (any, error) {
			return c.openApplication(ctx, bundleIDOrPath)
		},
	})
	if err != nil {
		return ax.AppInfo{}, err
	}
	info, ok := res.Output.(ax.AppInfo)
	if !ok {
		return ax.AppInfo{}, axerr.Internal("open produced no application info")
	}
	return info, nil
}

func (c *Coordinator) openApplication(ctx context.Context, bundleIDOrPath string) (ax.AppInfo, error) {
	if info, ok, err := c.pickRunning(bundleIDOrPath); err != nil {
		return ax.AppInfo{}, err
	} else if ok {
		log.Debug(log.CatCoord, "open resolved to running instance", "bundle", bundleIDOrPath, "pid", info.PID)
		return info, nil
	}

	pid, err := c.shim.Launch(ctx, bundleIDOrPath)
	if err != nil {
		return ax.AppInfo{}, err
	}
	log.Info(log.CatCoord, "launched application", "bundle", bundleIDOrPath, "pid", pid)

	if err := c.awaitAXReady(ctx, pid); err != nil {
		return ax.AppInfo{}, err
	}

	apps, err := c.shim.RunningApps()
	if err != nil {
		return ax.AppInfo{}, err
	}
	for _, app := range apps {
		if app.PID == pid {
			return app, nil
		}
	}
	return ax.AppInfo{PID: pid, BundleID: bundleIDOrPath}, nil
}

// pickRunning selects the best already-running instance, if any.
func (c *Coordinator) pickRunning(bundleIDOrPath string) (ax.AppInfo, bool, error) {
	apps, err := c.shim.RunningApps()
	if err != nil {
		return ax.AppInfo{}, false, err
	}

	var best *ax.AppInfo
	for i := range apps {
		app := &apps[i]
		if app.BundleID != bundleIDOrPath {
			continue
		}
		if best == nil {
			best = app
			continue
		}
		// Regular activation policy wins; recency breaks ties.
		bestRegular := best.Policy == ax.PolicyRegular
		appRegular := app.Policy == ax.PolicyRegular
		switch {
		case appRegular && !bestRegular:
			best = app
		case appRegular == bestRegular && app.LaunchedAt.After(best.LaunchedAt):
			best = app
		}
	}
	if best == nil {
		return ax.AppInfo{}, false, nil
	}
	return *best, true, nil
}

// awaitAXReady polls until the new process answers accessibility reads. A
// freshly launched app registers with the window server before its
// accessibility tree exists.
func (c *Coordinator) awaitAXReady(ctx context.Context, pid int) error {
	probe := func() (struct{}, error) {
		ref, err := c.shim.AppElement(pid)
		if err == nil {
			defer c.shim.Release(ref)
			_, err = c.shim.Attr(ref, ax.AttrRole)
		}
		if err != nil && axerr.IsKind(err, axerr.KindPermissionDenied) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(eb),
		backoff.WithMaxElapsedTime(15*time.Second))
	if err != nil {
		return axerr.Unavailable("pid %d launched but never became accessibility-ready: %v", pid, err)
	}
	return nil
}
