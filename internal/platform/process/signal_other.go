//go:build !unix

package process

import "errors"

func signalSelf() error {
	return errors.New("signalling the own process is not supported on this platform")
}
