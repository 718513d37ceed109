//go:build !unix

package commitlog

import "os"

// Advisory locking is only wired on unix builds.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}
