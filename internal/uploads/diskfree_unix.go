//go:build !windows

package uploads

import "golang.org/x/sys/unix"

// diskFree reports the filesystem's total and available bytes for the
// volume holding path.
func diskFree(path string) (total, free uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return uint64(st.Blocks) * bsize, uint64(st.Bavail) * bsize, nil
}
