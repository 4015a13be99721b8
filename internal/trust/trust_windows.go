//go:build windows

/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package trust

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// CMSG_SIGNER_INFO_PARAM selects the PKCS#7 signer-info blob in
// CryptMsgGetParam (wincrypt.h). golang.org/x/sys/windows does not expose
// CryptMsgGetParam/CryptMsgClose or the CMSG_SIGNER_INFO layout, so both are
// hand-declared here via NewLazySystemDLL/Syscall; the package's other
// crypt32/wintrust calls go through golang.org/x/sys/windows's own bindings.
const cmsgSignerInfoParam = 6

// cmsgSignerInfo mirrors wincrypt.h's CMSG_SIGNER_INFO. Only Issuer and
// SerialNumber are read (used to look the signing cert back up in the
// embedded store).
type cmsgSignerInfo struct {
	Version                 uint32
	Issuer                  windows.CertNameBlob
	SerialNumber            windows.CryptIntegerBlob
	HashAlgorithm           windows.CryptAlgorithmIdentifier
	HashEncryptionAlgorithm windows.CryptAlgorithmIdentifier
	EncryptedHash           windows.DataBlob
	AuthAttrsCount          uint32
	AuthAttrs               uintptr
	UnauthAttrsCount        uint32
	UnauthAttrs             uintptr
}

var (
	modcrypt32 = windows.NewLazySystemDLL("crypt32.dll")

	procCryptMsgGetParam = modcrypt32.NewProc("CryptMsgGetParam")
	procCryptMsgClose    = modcrypt32.NewProc("CryptMsgClose")
)

func cryptMsgGetParam(msg windows.Handle, paramType, index uint32, data unsafe.Pointer, size *uint32) error {
	r1, _, e1 := syscall.Syscall6(procCryptMsgGetParam.Addr(), 5,
		uintptr(msg), uintptr(paramType), uintptr(index), uintptr(data), uintptr(unsafe.Pointer(size)), 0)
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func cryptMsgClose(msg windows.Handle) {
	syscall.Syscall(procCryptMsgClose.Addr(), 1, uintptr(msg), 0, 0)
}

func errnoErr(e syscall.Errno) error {
	if e == 0 {
		return syscall.EINVAL
	}
	return e
}

func toUTF16Ptr(s string) (*uint16, error) {
	return windows.UTF16PtrFromString(s)
}

// extractSignerSubject re-parses the embedded PKCS#7 signature to recover
// the signing certificate's display subject, grounded on
// wintrust.rs::extract_signer_subject.
func extractSignerSubject(path string) string {
	wide, err := toUTF16Ptr(path)
	if err != nil {
		return ""
	}

	var store windows.Handle
	var msg windows.Handle

	err = windows.CryptQueryObject(
		windows.CERT_QUERY_OBJECT_FILE,
		unsafe.Pointer(wide),
		windows.CERT_QUERY_CONTENT_FLAG_PKCS7_SIGNED_EMBED,
		windows.CERT_QUERY_FORMAT_FLAG_BINARY,
		0,
		nil,
		nil,
		nil,
		&store,
		&msg,
		nil,
	)
	if err != nil || msg == 0 {
		if store != 0 {
			windows.CertCloseStore(store, 0)
		}
		return ""
	}
	defer windows.CertCloseStore(store, 0)
	defer cryptMsgClose(msg)

	var infoSize uint32
	if err := cryptMsgGetParam(msg, cmsgSignerInfoParam, 0, nil, &infoSize); err != nil || infoSize == 0 {
		return ""
	}

	buf := make([]byte, infoSize)
	if err := cryptMsgGetParam(msg, cmsgSignerInfoParam, 0, unsafe.Pointer(&buf[0]), &infoSize); err != nil {
		return ""
	}
	signer := (*cmsgSignerInfo)(unsafe.Pointer(&buf[0]))

	certInfo := windows.CertInfo{
		Issuer:       signer.Issuer,
		SerialNumber: signer.SerialNumber,
	}

	certCtx, err := windows.CertFindCertificateInStore(
		store,
		windows.X509_ASN_ENCODING|windows.PKCS_7_ASN_ENCODING,
		0,
		windows.CERT_FIND_SUBJECT_CERT,
		unsafe.Pointer(&certInfo),
		nil,
	)
	if err != nil || certCtx == nil {
		return ""
	}
	defer windows.CertFreeCertificateContext(certCtx)

	needed := windows.CertGetNameString(certCtx, windows.CERT_NAME_SIMPLE_DISPLAY_TYPE, 0, nil, nil, 0)
	if needed <= 1 {
		return ""
	}

	nameBuf := make([]uint16, needed)
	got := windows.CertGetNameString(certCtx, windows.CERT_NAME_SIMPLE_DISPLAY_TYPE, 0, nil, &nameBuf[0], needed)
	if got <= 1 {
		return ""
	}
	return windows.UTF16ToString(nameBuf[:got-1])
}

// verifyFileSignature runs WinVerifyTrust against the Authenticode policy
// and, on success, recovers the signer subject. Grounded on
// wintrust.rs::verify_file_signature.
func verifyFileSignature(path string) Result {
	wide, err := toUTF16Ptr(path)
	if err != nil {
		return Result{}
	}

	fileInfo := windows.WinTrustFileInfo{
		Size:     uint32(unsafe.Sizeof(windows.WinTrustFileInfo{})),
		FilePath: wide,
	}

	data := windows.WinTrustData{
		Size:                            uint32(unsafe.Sizeof(windows.WinTrustData{})),
		UIChoice:                        windows.WTD_UI_NONE,
		RevocationChecks:                windows.WTD_REVOKE_NONE,
		UnionChoice:                     windows.WTD_CHOICE_FILE,
		FileOrCatalogOrBlobOrSgnrOrCert: unsafe.Pointer(&fileInfo),
		StateAction:                     windows.WTD_STATEACTION_VERIFY,
	}

	action := windows.WINTRUST_ACTION_GENERIC_VERIFY_V2
	verr := windows.WinVerifyTrustEx(windows.HWND(0), &action, &data)

	data.StateAction = windows.WTD_STATEACTION_CLOSE
	_ = windows.WinVerifyTrustEx(windows.HWND(0), &action, &data)

	if verr != nil {
		return Result{}
	}

	return Result{Signed: true, SignerSubject: extractSignerSubject(path)}
}
