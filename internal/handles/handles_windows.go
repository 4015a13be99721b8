//go:build windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package handles

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// systemExtendedHandleInformation is SYSTEM_INFORMATION_CLASS value 64,
// undocumented but stable since Windows XP; x/sys/windows only enumerates
// classes up to SystemHandleInformation (16), so this is declared locally.
const systemExtendedHandleInformation = 64

// systemHandleTableEntryInfoEx mirrors SYSTEM_HANDLE_TABLE_ENTRY_INFO_EX,
// grounded on handles.rs.
type systemHandleTableEntryInfoEx struct {
	Object                uintptr
	UniqueProcessID       uintptr
	HandleValue           uintptr
	GrantedAccess         uint32
	CreatorBackTraceIndex uint16
	ObjectTypeIndex       uint16
	HandleAttributes      uint32
	Reserved              uint32
}

// systemHandleInformationExHeader reads the two leading fields of
// SYSTEM_HANDLE_INFORMATION_EX; entries immediately follow in the same
// buffer.
type systemHandleInformationExHeader struct {
	NumberOfHandles uintptr
	Reserved        uintptr
}

func entrySize() uintptr {
	return unsafe.Sizeof(systemHandleTableEntryInfoEx{})
}

// querySystemHandles retries NtQuerySystemInformation with a growing buffer
// until it succeeds, following the STATUS_INFO_LENGTH_MISMATCH retry loop
// in handles.rs::query_system_handles.
func querySystemHandles() ([]systemHandleTableEntryInfoEx, error) {
	bufSize := 8 * 1024 * 1024
	buf := make([]byte, bufSize)

	for {
		var needed uint32
		err := windows.NtQuerySystemInformation(
			systemExtendedHandleInformation,
			unsafe.Pointer(&buf[0]),
			uint32(len(buf)),
			&needed,
		)
		if err == nil {
			break
		}
		if ntstatus, ok := err.(windows.NTStatus); ok && ntstatus == windows.STATUS_INFO_LENGTH_MISMATCH {
			grown := int(needed) * 2
			if grown <= bufSize {
				grown = bufSize * 2
			}
			bufSize = grown
			buf = make([]byte, bufSize)
			continue
		}
		return nil, err
	}

	header := (*systemHandleInformationExHeader)(unsafe.Pointer(&buf[0]))
	count := int(header.NumberOfHandles)
	base := uintptr(unsafe.Pointer(&buf[0])) + unsafe.Sizeof(systemHandleInformationExHeader{})

	entries := make([]systemHandleTableEntryInfoEx, 0, count)
	for i := 0; i < count; i++ {
		entryPtr := (*systemHandleTableEntryInfoEx)(unsafe.Pointer(base + uintptr(i)*entrySize()))
		entries = append(entries, *entryPtr)
	}
	return entries, nil
}

// collectFileObjectsForPIDs snapshots the kernel handle table and returns,
// per file-object pointer, the trusted pids holding a handle to it.
//
// The object-type index for "File" isn't exposed by a stable constant, so
// this opens the running executable (a file it necessarily has a handle
// to), finds its own entry in the snapshot, and reads the type index off
// that entry — grounded on handles.rs::collect_file_objects_for_pids.
func collectFileObjectsForPIDs(trustedPIDs []uint32) (map[uint64]map[uint32]struct{}, error) {
	trusted := make(map[uint32]struct{}, len(trustedPIDs))
	for _, p := range trustedPIDs {
		trusted[p] = struct{}{}
	}

	exe, err := os.Executable()
	if err != nil {
		return map[uint64]map[uint32]struct{}{}, nil
	}
	probe, err := os.Open(exe)
	if err != nil {
		return map[uint64]map[uint32]struct{}{}, nil
	}
	defer probe.Close()

	handleVal := uintptr(probe.Fd())
	selfPID := uintptr(os.Getpid())

	entries, err := querySystemHandles()
	if err != nil {
		return map[uint64]map[uint32]struct{}{}, nil
	}

	var fileTypeIndex uint16
	found := false
	for _, e := range entries {
		if e.UniqueProcessID == selfPID && e.HandleValue == handleVal {
			fileTypeIndex = e.ObjectTypeIndex
			found = true
			break
		}
	}
	if !found {
		return map[uint64]map[uint32]struct{}{}, nil
	}

	out := make(map[uint64]map[uint32]struct{})
	for _, e := range entries {
		if e.ObjectTypeIndex != fileTypeIndex {
			continue
		}
		pid := uint32(e.UniqueProcessID)
		if _, ok := trusted[pid]; !ok {
			continue
		}
		obj := uint64(e.Object)
		if obj == 0 {
			continue
		}
		owners, ok := out[obj]
		if !ok {
			owners = make(map[uint32]struct{})
			out[obj] = owners
		}
		owners[pid] = struct{}{}
	}
	return out, nil
}
