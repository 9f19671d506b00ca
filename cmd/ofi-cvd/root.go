package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// exitError carries the process exit code spec.md §6's CLI surface names:
// 0 success, 1 generic failure, 2 config/validation error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 2, err: err}
}

func runtimeErr(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 1, err: err}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if ok := asExitError(err, &ee); ok {
		return ee.code
	}
	return 1
}

func asExitError(err error, target **exitError) bool {
	for err != nil {
		if ee, ok := err.(*exitError); ok {
			*target = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// newRootCmd builds the ofi-cvd root command, matching the teacher's
// cobra.Command tree shape (root with subcommands added in-place) rather
// than its menu-first TTY-detection behavior, which this CLI has no
// analogue for.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "ofi-cvd",
		Short:   "OFI/CVD microstructure signal pipeline and backtest runner",
		Version: version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newBacktestCmd())
	root.AddCommand(newParityCmd())

	return root
}

func wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
