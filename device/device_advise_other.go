//go:build unix && !linux

package device

import "os"

// posixAdvise is a no-op outside Linux: fadvise has no portable unix
// equivalent, and the hint is advisory only (spec §4.1 treats it as
// best-effort, never load-bearing for correctness).
func posixAdvise(_ *os.File, _ int) {}
