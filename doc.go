// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zebra drives a Zebra position-compare/logic unit over its
// serial line.
//
// The Zebra speaks a newline-terminated ASCII protocol exposing 256
// 16-bit registers:
//
//	R<AA>        -> R<AA><VVVV>   read register AA
//	W<AA><VVVV>  -> W<AA>OK       write VVVV to register AA
//	S / L        -> SOK / LOK     save/load register file to/from flash
//	             <- E0            malformed command
//	             <- E1R<AA>       read failed at AA
//	             <- E1W<AA>       write failed at AA
//
// Interleaved with request/response traffic, the unit emits unsolicited
// position-capture telegrams on the same line:
//
//	PR                     acquisition reset, buffers cleared
//	P<TTTTTTTT><field>*    one captured data point
//	PX                     acquisition complete
//
// The shape of a data telegram is set by the PC_BIT_CAP register: each
// enabled mask bit contributes one 8-hex-digit field after the
// timestamp, in a fixed order (four encoders, two system bus words,
// four divider counts).
//
// Protocol handles the request/response side, InterruptHandler decodes
// the capture stream, and Device ties both to one Transport with a
// single reader goroutine so the two kinds of traffic never get
// confused for each other.
package zebra
