package call

import (
	"bufio"
	"bytes"
	"strings"
)

// Direction is an SDP media direction attribute, per RFC 4566 6.7.
type Direction string

const (
	DirSendRecv Direction = "sendrecv"
	DirSendOnly Direction = "sendonly"
	DirRecvOnly Direction = "recvonly"
	DirInactive Direction = "inactive"
)

// ParseDirection scans an SDP body for its direction attribute. RFC 4566
// defaults a session/media description with none of the four attributes
// to sendrecv.
func ParseDirection(sdp []byte) Direction {
	sc := bufio.NewScanner(bytes.NewReader(sdp))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "a=sendrecv"):
			return DirSendRecv
		case strings.HasPrefix(line, "a=sendonly"):
			return DirSendOnly
		case strings.HasPrefix(line, "a=recvonly"):
			return DirRecvOnly
		case strings.HasPrefix(line, "a=inactive"):
			return DirInactive
		}
	}
	return DirSendRecv
}

// invert returns the direction the far end sees given this end's
// direction, per spec.md 4.5's hold/resume table: the answer direction
// is the inverse of the offer's.
func (d Direction) invert() Direction {
	switch d {
	case DirSendOnly:
		return DirRecvOnly
	case DirRecvOnly:
		return DirSendOnly
	default:
		return d
	}
}

// AnswerDirection derives the answer SDP's direction attribute from the
// offer's, per spec.md 4.5: the handler never consults media state, it
// only inverts the attribute.
func AnswerDirection(offer Direction) Direction {
	return offer.invert()
}

// DeriveHoldState derives the call's hold_state from the offer/answer
// direction pair, per spec.md 4.5's table.
func DeriveHoldState(offer, answer Direction) HoldState {
	switch {
	case offer == DirSendRecv && answer == DirSendRecv:
		return HoldActive
	case offer == DirSendOnly && answer == DirRecvOnly:
		return HoldRemote
	case offer == DirRecvOnly && answer == DirSendOnly:
		return HoldLocal
	case offer == DirInactive && answer == DirInactive:
		return HoldBoth
	default:
		return HoldActive
	}
}

// RewriteDirection replaces the direction attribute line in sdp with
// dir, appending one if none was present. Used to build the answer SDP
// for a hold/resume re-INVITE.
func RewriteDirection(sdp []byte, dir Direction) []byte {
	lines := strings.Split(string(sdp), "\r\n")
	found := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "a=sendrecv") || strings.HasPrefix(trimmed, "a=sendonly") ||
			strings.HasPrefix(trimmed, "a=recvonly") || strings.HasPrefix(trimmed, "a=inactive") {
			lines[i] = "a=" + string(dir)
			found = true
		}
	}
	if !found {
		lines = append(lines, "a="+string(dir))
	}
	return []byte(strings.Join(lines, "\r\n"))
}
