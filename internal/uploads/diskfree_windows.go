//go:build windows

package uploads

import "golang.org/x/sys/windows"

// diskFree reports the volume's total and caller-available bytes.
func diskFree(path string) (total, free uint64, err error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, err
	}
	var freeForCaller, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeForCaller, &totalBytes, &totalFree); err != nil {
		return 0, 0, err
	}
	return totalBytes, freeForCaller, nil
}
