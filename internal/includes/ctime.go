package includes

import (
	"os"
	"syscall"
	"time"
)

// ctimeOf extracts the inode change time from a FileInfo's underlying
// syscall.Stat_t, returning the zero Time when unavailable (e.g. on
// platforms without Sys() support).
func ctimeOf(info os.FileInfo) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}
	}
	return time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}
