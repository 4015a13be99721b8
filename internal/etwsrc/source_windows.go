//go:build windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package etwsrc

import (
	"encoding/binary"
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Neither the classic ETW trace-control API (advapi32.dll) nor TDH
// (tdh.dll) are exposed by golang.org/x/sys/windows, unlike the
// crypt32/wintrust surface internal/trust uses. Every proc below is
// hand-declared via NewLazySystemDLL, following the same idiom as
// gravwell/wineventlog/zsyscall_windows.go.
var (
	modadvapi32 = windows.NewLazySystemDLL("advapi32.dll")
	modtdh      = windows.NewLazySystemDLL("tdh.dll")

	procStartTraceW     = modadvapi32.NewProc("StartTraceW")
	procControlTraceW   = modadvapi32.NewProc("ControlTraceW")
	procEnableTraceEx2  = modadvapi32.NewProc("EnableTraceEx2")
	procOpenTraceW      = modadvapi32.NewProc("OpenTraceW")
	procProcessTrace    = modadvapi32.NewProc("ProcessTrace")
	procCloseTrace      = modadvapi32.NewProc("CloseTrace")
	procTdhGetPropertySize = modtdh.NewProc("TdhGetPropertySize")
	procTdhGetProperty     = modtdh.NewProc("TdhGetProperty")
)

const (
	errorSuccess            = 0
	errorAlreadyExists      = 183
	errorAccessDenied       = 5
	errorWMIInstanceNotFound = 4201

	wnodeFlagTracedGUID = 0x00020000
	eventTraceRealTimeMode = 0x00000100
	eventTraceControlStop  = 1
	eventControlCodeEnableProvider = 1
	traceLevelVerbose = 5

	processTraceModeEventRecord  = 0x10000000
	processTraceModeRealTime     = 0x00000100
	processTraceModeRawTimestamp = 0x00000001

	invalidProcessTraceHandle = ^uint64(0)
)

// Byte layout of EVENT_TRACE_PROPERTIES (evntrace.h), sizeof 120 on amd64.
// Built by hand rather than as a Go struct so the embedded WNODE_HEADER and
// trailing name buffer line up exactly like StartTraceW expects — mirrors
// etw.rs::build_properties's own manual layout.
const (
	etpSize              = 120
	etpLoggerNameOffsetAt = 116
	etpLogFileModeAt      = 64
	etpWnodeBufferSizeAt  = 0
	etpWnodeFlagsAt       = 44
	etpWnodeClientCtxAt   = 40
)

// Byte layout of EVENT_TRACE_LOGFILEW, sizeof 456 on amd64: LogFileName,
// LoggerName, CurrentTime, BuffersRead, then the LogFileMode/
// ProcessTraceMode union, an embedded EVENT_TRACE (96B) and
// TRACE_LOGFILE_HEADER (280B) neither of which this source reads or
// writes, BufferCallback, BufferSize/Filled/EventsLost, the
// EventCallback/EventRecordCallback union, IsKernelTrace and Context.
const (
	etlSize                = 456
	etlLoggerNameAt        = 8
	etlProcessTraceModeAt  = 28
	etlEventRecordCallbackAt = 432
	etlContextAt           = 448
)

func putPtr(buf []byte, off int, p unsafe.Pointer) {
	binary.LittleEndian.PutUint64(buf[off:], uint64(uintptr(p)))
}

func putU32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
}

func buildProperties(traceNameWide []uint16) []byte {
	nameBytes := len(traceNameWide) * 2
	total := etpSize + nameBytes
	buf := make([]byte, total)

	putU32(buf, etpWnodeBufferSizeAt, uint32(total))
	putU32(buf, etpWnodeFlagsAt, wnodeFlagTracedGUID)
	putU32(buf, etpWnodeClientCtxAt, 1)
	putU32(buf, etpLogFileModeAt, eventTraceRealTimeMode)
	putU32(buf, etpLoggerNameOffsetAt, uint32(etpSize))

	dst := (*[1 << 30]uint16)(unsafe.Pointer(&buf[etpSize]))[:len(traceNameWide):len(traceNameWide)]
	copy(dst, traceNameWide)
	return buf
}

func errnoErr(e syscall.Errno) error {
	if e == 0 {
		return syscall.EINVAL
	}
	return e
}

func startTraceW(controlHandle *uint64, name *uint16, props unsafe.Pointer) uint32 {
	r1, _, _ := syscall.Syscall(procStartTraceW.Addr(), 3,
		uintptr(unsafe.Pointer(controlHandle)), uintptr(unsafe.Pointer(name)), uintptr(props))
	return uint32(r1)
}

func controlTraceW(controlHandle uint64, name *uint16, props unsafe.Pointer, controlCode uint32) uint32 {
	r1, _, _ := syscall.Syscall6(procControlTraceW.Addr(), 4,
		uintptr(controlHandle), uintptr(unsafe.Pointer(name)), uintptr(props), uintptr(controlCode), 0, 0)
	return uint32(r1)
}

func enableTraceEx2(controlHandle uint64, guid *windows.GUID, controlCode uint32, level uint8, matchAny, matchAll uint64, timeout uint32) uint32 {
	r1, _, _ := syscall.Syscall9(procEnableTraceEx2.Addr(), 8,
		uintptr(controlHandle), uintptr(unsafe.Pointer(guid)), uintptr(controlCode), uintptr(level),
		uintptr(matchAny), uintptr(matchAll), uintptr(timeout), 0, 0)
	return uint32(r1)
}

func openTraceW(logfile unsafe.Pointer) uint64 {
	r1, _, _ := syscall.Syscall(procOpenTraceW.Addr(), 1, uintptr(logfile), 0, 0)
	return uint64(r1)
}

func processTrace(handles *uint64, count uint32) uint32 {
	r1, _, _ := syscall.Syscall6(procProcessTrace.Addr(), 4,
		uintptr(unsafe.Pointer(handles)), uintptr(count), 0, 0, 0, 0)
	return uint32(r1)
}

func closeTrace(handle uint64) uint32 {
	r1, _, _ := syscall.Syscall(procCloseTrace.Addr(), 1, uintptr(handle), 0, 0)
	return uint32(r1)
}

// propertyDataDescriptor mirrors PROPERTY_DATA_DESCRIPTOR (tdh.h).
type propertyDataDescriptor struct {
	PropertyName uint64
	ArrayIndex   uint32
	Reserved     uint32
}

func tdhGetPropertySize(record unsafe.Pointer, desc *propertyDataDescriptor) (uint32, error) {
	var size uint32
	r1, _, _ := syscall.Syscall6(procTdhGetPropertySize.Addr(), 5,
		uintptr(record), 0, uintptr(1), uintptr(unsafe.Pointer(desc)), uintptr(unsafe.Pointer(&size)), 0)
	if r1 != errorSuccess {
		return 0, errnoErr(syscall.Errno(r1))
	}
	return size, nil
}

func tdhGetProperty(record unsafe.Pointer, desc *propertyDataDescriptor, buf []byte) error {
	var p *byte
	if len(buf) > 0 {
		p = &buf[0]
	}
	r1, _, _ := syscall.Syscall9(procTdhGetProperty.Addr(), 6,
		uintptr(record), 0, uintptr(1), uintptr(unsafe.Pointer(desc)), uintptr(len(buf)), uintptr(unsafe.Pointer(p)), 0, 0, 0)
	if r1 != errorSuccess {
		return errnoErr(syscall.Errno(r1))
	}
	return nil
}

// eventDescriptor mirrors EVENT_DESCRIPTOR (evntprov.h).
type eventDescriptor struct {
	ID      uint16
	Version uint8
	Channel uint8
	Level   uint8
	Opcode  uint8
	Task    uint16
	Keyword uint64
}

// eventHeader mirrors EVENT_HEADER (evntcons.h) — the fields this source
// actually reads (ProcessId, ProviderId, EventDescriptor.ID); the trailing
// union/ActivityId are kept for layout fidelity only.
type eventHeader struct {
	Size            uint16
	HeaderType      uint16
	Flags           uint16
	EventProperty   uint16
	ThreadID        uint32
	ProcessID       uint32
	TimeStamp       int64
	ProviderID      windows.GUID
	EventDescriptor eventDescriptor
	KernelTime      uint32
	UserTime        uint32
	ActivityID      windows.GUID
}

type etwBufferContext struct {
	ProcessorIndex uint16
	LoggerID       uint16
}

// eventRecord mirrors EVENT_RECORD (evntcons.h), as delivered to the
// PEVENT_RECORD_CALLBACK registered on the logfile's EventRecordCallback.
type eventRecord struct {
	EventHeader       eventHeader
	BufferContext     etwBufferContext
	ExtendedDataCount uint16
	UserDataLength    uint16
	ExtendedData      uintptr
	UserData          uintptr
	UserContext       uintptr
}

var (
	sessionsMtx sync.Mutex
	sessions    = map[uintptr]*windowsSession{}
)

type windowsSession struct {
	sink          Sink
	traceNameWide []uint16
	controlHandle uint64
	traceHandle   uint64
	done          chan struct{}
}

func toWide(s string) []uint16 {
	w, err := windows.UTF16FromString(s)
	if err != nil {
		return []uint16{0}
	}
	return w
}

func guidFromString(s string) windows.GUID {
	g, err := windows.GUIDFromString("{" + s + "}")
	if err != nil {
		return windows.GUID{}
	}
	return g
}

var (
	kernelProcessGUID = guidFromString(KernelProcessProviderGUID)
	kernelFileGUID    = guidFromString(KernelFileProviderGUID)
)

func stopTraceByName(nameWide []uint16) error {
	props := buildProperties(nameWide)
	status := controlTraceW(0, &nameWide[0], unsafe.Pointer(&props[0]), eventTraceControlStop)
	if status == errorSuccess || status == errorWMIInstanceNotFound {
		return nil
	}
	return fmt.Errorf("ControlTraceW failed: %d", status)
}

func enableProvider(controlHandle uint64, guid windows.GUID) error {
	status := enableTraceEx2(controlHandle, &guid, eventControlCodeEnableProvider, traceLevelVerbose, ^uint64(0), 0, 0)
	if status == errorSuccess {
		return nil
	}
	if status == errorAccessDenied {
		return fmt.Errorf("EnableTraceEx2 failed: access denied (run as administrator)")
	}
	return fmt.Errorf("EnableTraceEx2 failed: %d", status)
}

// startTrace opens the kernel trace session, retrying once if a stale
// session with the same name is still registered — ported from
// etw.rs::start_etw/start_trace.
func startTrace(sink Sink) (Session, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		s, err := startTraceOnce(sink)
		if err == nil {
			return s, nil
		}
		lastErr = err
		if attempt == 0 {
			_ = stopTraceByName(toWide(TraceName))
			time.Sleep(150 * time.Millisecond)
			continue
		}
	}
	return nil, fmt.Errorf("failed to start ETW session: %w", lastErr)
}

func startTraceOnce(sink Sink) (Session, error) {
	nameWide := toWide(TraceName)
	props := buildProperties(nameWide)

	var controlHandle uint64
	status := startTraceW(&controlHandle, &nameWide[0], unsafe.Pointer(&props[0]))
	if status != errorSuccess {
		if status == errorAlreadyExists {
			return nil, fmt.Errorf("ETW session already exists")
		}
		if status == errorAccessDenied {
			return nil, fmt.Errorf("StartTraceW failed: access denied (run as administrator)")
		}
		return nil, fmt.Errorf("StartTraceW failed: %d", status)
	}

	if err := enableProvider(controlHandle, kernelProcessGUID); err != nil {
		_ = stopTraceByName(nameWide)
		return nil, err
	}
	if err := enableProvider(controlHandle, kernelFileGUID); err != nil {
		_ = stopTraceByName(nameWide)
		return nil, err
	}

	logfile := make([]byte, etlSize)
	putPtr(logfile, etlLoggerNameAt, unsafe.Pointer(&nameWide[0]))
	putU32(logfile, etlProcessTraceModeAt, processTraceModeEventRecord|processTraceModeRealTime|processTraceModeRawTimestamp)

	sess := &windowsSession{sink: sink, traceNameWide: nameWide, controlHandle: controlHandle, done: make(chan struct{})}

	token := registerSession(sess)
	putPtr(logfile, etlContextAt, unsafe.Pointer(token))
	cb := syscall.NewCallback(eventRecordCallback)
	putPtr(logfile, etlEventRecordCallbackAt, unsafe.Pointer(cb))

	traceHandle := openTraceW(unsafe.Pointer(&logfile[0]))
	if traceHandle == invalidProcessTraceHandle {
		unregisterSession(token)
		_ = stopTraceByName(nameWide)
		return nil, fmt.Errorf("OpenTraceW failed: %d", windows.GetLastError())
	}
	sess.traceHandle = traceHandle

	go func() {
		defer close(sess.done)
		handles := [1]uint64{traceHandle}
		processTrace(&handles[0], 1)
		closeTrace(traceHandle)
	}()

	return sess, nil
}

// registerSession/unregisterSession map an opaque token pointer (passed as
// EVENT_TRACE_LOGFILEW.Context, since Go pointers can't round-trip through
// a syscall callback as arbitrary data) back to the Go session so the
// free-standing eventRecordCallback can resolve which sink to dispatch to.
func registerSession(s *windowsSession) uintptr {
	sessionsMtx.Lock()
	defer sessionsMtx.Unlock()
	token := uintptr(unsafe.Pointer(s))
	sessions[token] = s
	return token
}

func unregisterSession(token uintptr) {
	sessionsMtx.Lock()
	defer sessionsMtx.Unlock()
	delete(sessions, token)
}

func lookupSession(token uintptr) *windowsSession {
	sessionsMtx.Lock()
	defer sessionsMtx.Unlock()
	return sessions[token]
}

func (s *windowsSession) Close() error {
	err := stopTraceByName(s.traceNameWide)
	<-s.done
	unregisterSession(uintptr(unsafe.Pointer(s)))
	return err
}

func eventRecordCallback(record *eventRecord) uintptr {
	if record == nil {
		return 0
	}
	sess := lookupSession(record.UserContext)
	if sess == nil {
		return 0
	}

	pid := record.EventHeader.ProcessID
	eventID := record.EventHeader.EventDescriptor.ID
	provider := record.EventHeader.ProviderID

	if guidEqual(provider, kernelProcessGUID) {
		image, ok := getPropertyString(unsafe.Pointer(record), "ImageName")
		if !ok {
			return 0
		}
		cmdline, _ := getPropertyString(unsafe.Pointer(record), "CommandLine")
		sess.sink.OnProcessStart(pid, image, cmdline)
		return 0
	}

	if !guidEqual(provider, kernelFileGUID) {
		return 0
	}
	if eventID != 12 && eventID != 0 && eventID != 65 && eventID != 66 {
		return 0
	}

	fileKey, _ := getPropertyU64(unsafe.Pointer(record), "FileKey")
	fileObject, _ := getPropertyU64(unsafe.Pointer(record), "FileObject")
	if fileKey == 0 {
		fileKey = fileObject
	}

	var inlineName string
	if name, ok := getPropertyString(unsafe.Pointer(record), "FileName"); ok {
		inlineName = name
	}

	sess.sink.OnFileAccess(pid, eventID, fileKey, fileObject, inlineName)
	return 0
}

func guidEqual(a, b windows.GUID) bool {
	return a.Data1 == b.Data1 && a.Data2 == b.Data2 && a.Data3 == b.Data3 && a.Data4 == b.Data4
}

func getPropertyBytes(record unsafe.Pointer, name string) ([]byte, bool) {
	wide := toWide(name)
	desc := propertyDataDescriptor{PropertyName: uint64(uintptr(unsafe.Pointer(&wide[0])))}

	size, err := tdhGetPropertySize(record, &desc)
	if err != nil || size == 0 {
		return nil, false
	}
	buf := make([]byte, size)
	if err := tdhGetProperty(record, &desc, buf); err != nil {
		return nil, false
	}
	return buf, true
}

func getPropertyString(record unsafe.Pointer, name string) (string, bool) {
	buf, ok := getPropertyBytes(record, name)
	if !ok {
		return "", false
	}
	if len(buf) >= 2 && len(buf)%2 == 0 {
		u16s := make([]uint16, len(buf)/2)
		for i := range u16s {
			u16s[i] = binary.LittleEndian.Uint16(buf[i*2:])
		}
		for i, c := range u16s {
			if c == 0 {
				u16s = u16s[:i]
				break
			}
		}
		if len(u16s) > 0 {
			return windows.UTF16ToString(u16s), true
		}
	}
	s := string(buf)
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	if s == "" {
		return "", false
	}
	return s, true
}

func getPropertyU64(record unsafe.Pointer, name string) (uint64, bool) {
	buf, ok := getPropertyBytes(record, name)
	if !ok {
		return 0, false
	}
	switch len(buf) {
	case 8:
		return binary.LittleEndian.Uint64(buf), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), true
	case 1:
		return uint64(buf[0]), true
	default:
		if len(buf) >= 8 {
			return binary.LittleEndian.Uint64(buf[:8]), true
		}
		return 0, false
	}
}
