// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import "errors"

// Error kinds returned (wrapped) by the pipeline operations. Test
// with errors.Is.
var (
	ErrInputNotFound      = errors.New("input not found")
	ErrMalformedInput     = errors.New("malformed input")
	ErrUnknownGene        = errors.New("unknown gene")
	ErrInsufficientGroups = errors.New("case/control column does not define exactly two non-empty groups")
	ErrRemoteLookup       = errors.New("remote gene lookup failed")
)
