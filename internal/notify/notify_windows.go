//go:build windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package notify

import (
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/titan-softwork/vigil-go/internal/alert"
)

// user32.dll/shell32.dll expose no windowing or shell-notification-icon
// surface through golang.org/x/sys/windows (it focuses on kernel32/
// advapi32/crypt32/ws2_32), so the procs below are hand-declared, same
// idiom as internal/trust and internal/etwsrc.
var (
	moduser32 = windows.NewLazySystemDLL("user32.dll")

	procRegisterClassExW  = moduser32.NewProc("RegisterClassExW")
	procCreateWindowExW   = moduser32.NewProc("CreateWindowExW")
	procDefWindowProcW    = moduser32.NewProc("DefWindowProcW")
	procGetMessageW       = moduser32.NewProc("GetMessageW")
	procTranslateMessage  = moduser32.NewProc("TranslateMessage")
	procDispatchMessageW  = moduser32.NewProc("DispatchMessageW")
	procLoadIconW         = moduser32.NewProc("LoadIconW")
	procShellNotifyIconW  = windows.NewLazySystemDLL("shell32.dll").NewProc("Shell_NotifyIconW")
)

const (
	toastSuppress = 30 * time.Second

	hwndMessage = ^uintptr(0) - 2 // HWND_MESSAGE == (HWND)-3

	nimAdd    = 0x00000000
	nifIcon   = 0x00000002
	nifTip    = 0x00000004
	nifInfo   = 0x00000010
	niifInfo  = 0x00000001

	idiInformation = 32516 // MAKEINTRESOURCE(IDI_INFORMATION)
)

// notifyIconDataW mirrors NOTIFYICONDATAW (shellapi.h).
type notifyIconDataW struct {
	Size             uint32
	Wnd              uintptr
	ID               uint32
	Flags            uint32
	CallbackMessage  uint32
	Icon             uintptr
	Tip              [128]uint16
	State            uint32
	StateMask        uint32
	Info             [256]uint16
	TimeoutOrVersion uint32
	InfoTitle        [64]uint16
	InfoFlags        uint32
	GUIDItem         windows.GUID
	BalloonIcon      uintptr
}

type wndClassExW struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   uintptr
	Icon       uintptr
	Cursor     uintptr
	Background uintptr
	MenuName   *uint16
	ClassName  *uint16
	IconSm     uintptr
}

func defWindowProc(hwnd, msg, wparam, lparam uintptr) uintptr {
	r, _, _ := procDefWindowProcW.Call(hwnd, msg, wparam, lparam)
	return r
}

type windowsNotifier struct {
	mtx  sync.Mutex
	gate map[uint32]time.Time

	once sync.Once
	hwnd uintptr
	icon uintptr
}

func newPlatformNotifier() Notifier {
	return &windowsNotifier{gate: make(map[uint32]time.Time)}
}

func (n *windowsNotifier) shouldNotify(pid uint32) bool {
	if pid == 0 || pid == 4 {
		return false
	}
	n.mtx.Lock()
	defer n.mtx.Unlock()

	now := time.Now()
	for p, t := range n.gate {
		if now.Sub(t) >= toastSuppress {
			delete(n.gate, p)
		}
	}
	if _, seen := n.gate[pid]; seen {
		return false
	}
	n.gate[pid] = now
	return true
}

// ensureWindow lazily registers a message-only window used solely as the
// owner handle Shell_NotifyIconW requires; it services no visible UI.
func (n *windowsNotifier) ensureWindow() bool {
	n.once.Do(func() {
		className, err := windows.UTF16PtrFromString("TitanOperativeNotifyWnd")
		if err != nil {
			return
		}
		cb := syscall.NewCallback(func(hwnd, msg, wparam, lparam uintptr) uintptr {
			return defWindowProc(hwnd, msg, wparam, lparam)
		})

		wc := wndClassExW{
			Size:      uint32(unsafe.Sizeof(wndClassExW{})),
			WndProc:   cb,
			ClassName: className,
		}
		procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc)))

		hwnd, _, _ := procCreateWindowExW.Call(
			0,
			uintptr(unsafe.Pointer(className)),
			0,
			0, 0, 0, 0, 0,
			hwndMessage,
			0, 0, 0,
		)
		n.hwnd = hwnd

		n.icon, _, _ = procLoadIconW.Call(0, idiInformation)

		go n.pumpMessages()
	})
	return n.hwnd != 0
}

func (n *windowsNotifier) pumpMessages() {
	var msg [6]uintptr // MSG is 48 bytes on amd64 (HWND,UINT,WPARAM,LPARAM,DWORD,POINT); opaque here, we only pump
	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg[0])), 0, 0, 0)
		if int32(r) <= 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg[0])))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg[0])))
	}
}

func copyToUTF16(dst []uint16, s string) {
	w, err := windows.UTF16FromString(s)
	if err != nil {
		return
	}
	n := len(w)
	if n > len(dst) {
		n = len(dst)
		dst[n-1] = 0
	}
	copy(dst[:n], w[:n])
}

// Notify shows a balloon tip for the alert, gated to one per pid per
// toastSuppress window — grounded on notify.rs::toast_from_alert/
// should_toast.
func (n *windowsNotifier) Notify(a alert.Alert) {
	if !n.shouldNotify(a.Pid) {
		return
	}
	if !n.ensureWindow() {
		return
	}

	var data notifyIconDataW
	data.Size = uint32(unsafe.Sizeof(data))
	data.Wnd = n.hwnd
	data.ID = 1
	data.Flags = nifIcon | nifTip | nifInfo
	data.Icon = n.icon
	data.InfoFlags = niifInfo

	copyToUTF16(data.Tip[:], "TITAN Operative")
	copyToUTF16(data.InfoTitle[:], "TITAN Operative Alert")
	copyToUTF16(data.Info[:], headline(a))

	procShellNotifyIconW.Call(nimAdd, uintptr(unsafe.Pointer(&data)))
}
