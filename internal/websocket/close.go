package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// CloseConnectTimeout is the private code used when the connect watchdog aborts an attempt.
const CloseConnectTimeout = 4000

type CloseClass int

const (
	CloseNormal CloseClass = iota
	CloseAuthFailed
	CloseServerError
	CloseRoomMissing
	CloseAbnormal
)

// ClassifyClose maps a close code onto its client meaning. Only 1000 and
// 1001 count as normal; everything else is recovered by reconnecting.
func ClassifyClose(code int) CloseClass {
	switch code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return CloseNormal
	case websocket.ClosePolicyViolation:
		return CloseAuthFailed
	case websocket.CloseInternalServerErr:
		return CloseServerError
	case websocket.CloseTryAgainLater:
		return CloseRoomMissing
	default:
		return CloseAbnormal
	}
}

func (c CloseClass) Reconnects() bool {
	return c != CloseNormal
}

func (c CloseClass) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseAuthFailed:
		return "auth-failed"
	case CloseServerError:
		return "server-error"
	case CloseRoomMissing:
		return "room-missing"
	default:
		return "abnormal"
	}
}

// Notice is the timeline text for an abnormal close.
func (c CloseClass) Notice() string {
	switch c {
	case CloseNormal:
		return "Chat connection closed."
	case CloseAuthFailed:
		return "Authentication failed: your login has expired or you lack permission."
	case CloseServerError:
		return "The chat server hit an internal error."
	case CloseRoomMissing:
		return "This chat room does not exist."
	default:
		return "Chat connection closed. Trying to reconnect."
	}
}

// handshakeCode maps a rejected handshake onto the close code table.
func handshakeCode(resp *http.Response) int {
	if resp == nil {
		return websocket.CloseAbnormalClosure
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return websocket.ClosePolicyViolation
	case resp.StatusCode == http.StatusNotFound:
		return websocket.CloseTryAgainLater
	case resp.StatusCode >= 500:
		return websocket.CloseInternalServerErr
	default:
		return websocket.CloseAbnormalClosure
	}
}
