//go:build !unix

package capture

import "errors"

func freeDiskBytes(string) (uint64, error) {
	return 0, errors.New("disk space query is not supported on this platform")
}
