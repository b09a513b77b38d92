package runner

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun returns the first time after now matching expr.
func NextRun(expr string, now time.Time) (time.Time, error) {
	sh, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "bad schedule %q", expr)
	}
	next := sh.Next(now)
	if next.IsZero() {
		return time.Time{}, pkgerrors.Errorf("schedule %q never fires", expr)
	}
	return next, nil
}

// waitForSchedule blocks until the next match of expr. It returns early
// without error when ctx is cancelled.
func waitForSchedule(ctx context.Context, expr string, now func() time.Time) error {
	next, err := NextRun(expr, now())
	if err != nil {
		return err
	}

	wait := next.Sub(now())
	logrus.WithFields(logrus.Fields{
		"schedule": expr,
		"startAt":  next.Format(time.DateTime),
	}).Infof("waiting %s for scheduled start", wait.Round(time.Second))

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("scheduled start cancelled")
	case <-timer.C:
	}
	return nil
}
