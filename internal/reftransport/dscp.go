// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reftransport

import (
	"log/slog"
	"net"
	"strings"
	"syscall"
)

// dscpCodepoints maps DSCP names (RFC 2474/4594) to their 6-bit code point.
// Expedited Forwarding has no formula — RFC 3246 simply assigns it 46 — so
// it's the one hardcoded entry; the Assured Forwarding and Class Selector
// families are generated from their defining formulas (RFC 2597 §5, RFC
// 2474 §4.2.2.1) so the table can't drift out of sync with a hand-copied
// literal as RFC 8622 and friends add more class selectors.
var dscpCodepoints = buildDSCPTable()

func buildDSCPTable() map[string]int {
	t := map[string]int{"EF": 46}

	for class := 1; class <= 4; class++ {
		for precedence := 1; precedence <= 3; precedence++ {
			name := fmt1AF(class, precedence)
			t[name] = 8*class + 2*precedence
		}
	}

	for class := 0; class <= 7; class++ {
		t[fmt1CS(class)] = class * 8
	}

	return t
}

func fmt1AF(class, precedence int) string {
	return "AF" + digit(class) + digit(precedence)
}

func fmt1CS(class int) string {
	return "CS" + digit(class)
}

func digit(n int) string {
	return string(rune('0' + n))
}

// ApplyDSCP sets the IP_TOS socket option on conn to mark traffic with the
// named DSCP code point (e.g. "AF41", "EF"). DSCP is QoS best-effort, not a
// wire-protocol correctness requirement — routers along the path are free
// to ignore or remark it — so unlike a handshake or framing error, nothing
// here is fatal to the channel: an empty name leaves traffic unmarked
// without logging, and an unknown name, a non-TCP conn, or a setsockopt
// failure log a warning and leave traffic unmarked. logger may be nil, in
// which case failures are silent.
func ApplyDSCP(conn net.Conn, name string, logger *slog.Logger) {
	name = strings.TrimSpace(strings.ToUpper(name))
	if name == "" {
		return
	}

	warn := func(msg string, args ...any) {
		if logger != nil {
			logger.Warn("reftransport: "+msg, args...)
		}
	}

	codepoint, ok := dscpCodepoints[name]
	if !ok {
		warn("unknown DSCP value, leaving traffic unmarked", "dscp", name)
		return
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		warn("cannot apply DSCP on a non-TCP connection", "dscp", name, "conn_type", conn)
		return
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		warn("getting raw conn for DSCP", "dscp", name, "error", err)
		return
	}

	tosValue := codepoint << 2

	var sysErr error
	if err := rawConn.Control(func(fd uintptr) {
		sysErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tosValue)
	}); err != nil {
		warn("control fd for DSCP", "dscp", name, "error", err)
		return
	}
	if sysErr != nil {
		warn("setsockopt IP_TOS", "dscp", name, "tos_value", tosValue, "error", sysErr)
	}
}
