//go:build unix

package process

import "golang.org/x/sys/unix"

func signalSelf() error {
	return unix.Kill(unix.Getpid(), unix.SIGTERM)
}
