//go:build windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package procimage

import "golang.org/x/sys/windows"

// fastImagePath ports process.rs::get_process_image_path: a direct
// OpenProcess + QueryFullProcessImageNameW call, far cheaper per-pid than
// spinning up a gopsutil Process (which opens several extra handles to
// read command line/create time/etc. this caller doesn't need).
func fastImagePath(pid uint32) (string, bool) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", false
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, 4096)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil || size == 0 {
		return "", false
	}
	return windows.UTF16ToString(buf[:size]), true
}

// fastListPids ports process.rs::enum_process_ids: EnumProcesses with a
// doubling retry on truncation.
func fastListPids() ([]uint32, bool) {
	cap := 4096
	for {
		buf := make([]uint32, cap)
		var bytesReturned uint32
		if err := windows.EnumProcesses(buf, &bytesReturned); err != nil {
			return nil, false
		}
		count := int(bytesReturned) / 4
		if int(bytesReturned) >= len(buf)*4 {
			cap *= 2
			continue
		}
		return buf[:count], true
	}
}
