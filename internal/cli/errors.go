package cli

import "errors"

// ErrUsage matches every error caused by invalid input: flags, config files
// and contracts that cannot be generated from.
var ErrUsage = errors.New("cli usage error")

const (
	exitFailure = 1
	exitUsage   = 2
)

type usageError struct {
	msg string
}

func newUsageError(msg string) error {
	return usageError{msg: msg}
}

func (e usageError) Error() string {
	return e.msg
}

func (e usageError) Is(target error) bool {
	return target == ErrUsage
}

// ExitCode maps an Execute error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUsage):
		return exitUsage
	default:
		return exitFailure
	}
}
