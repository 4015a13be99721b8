/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package trust implements the code-signing trust oracle (spec.md §4.2 / §6.2).
// A path is trusted only if Authenticode verification succeeds; the platform
// split lives in trust_windows.go / trust_other.go.
package trust

// Result mirrors the oracle's full answer for a single path: whether the
// file carries a valid signature, and the signer's subject name if so.
type Result struct {
	Signed        bool
	SignerSubject string
}

// Oracle verifies a file's code-signing status. It satisfies
// engine.TrustOracle.
type Oracle struct{}

// New returns a trust oracle for the current platform.
func New() *Oracle {
	return &Oracle{}
}

// Verify reports whether path carries a valid Authenticode signature and,
// if so, the signer's display subject. A verification failure of any kind
// (missing file, no signature, API error) is reported as unsigned — per
// spec.md §4.7 the trust oracle fails closed, never open.
func (o *Oracle) Verify(path string) (signed bool, signerSubject string) {
	r := verifyFileSignature(path)
	return r.Signed, r.SignerSubject
}
