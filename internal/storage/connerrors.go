package storage

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ClassifyConnectError maps a PostgreSQL SQLState into the §6.3 typed
// connection error, refining "other 08..." with a 1-second TCP reachability
// probe against host:port.
func ClassifyConnectError(sqlState string, host, port string, sslEnabled bool) error {
	switch {
	case sqlState == "08004":
		return ErrConnectionRejected
	case sqlState == "08006" && sslEnabled:
		return ErrSSL
	case strings.HasPrefix(sqlState, "08"):
		if !tcpReachable(host, port) {
			return fmt.Errorf("%w: %s did not accept a TCP connection within 1s (SQL-state %s)", ErrUnreachable, net.JoinHostPort(host, port), sqlState)
		}
		return fmt.Errorf("%w: %s accepts TCP connections but the server reported SQL-state %s", ErrUnreachable, net.JoinHostPort(host, port), sqlState)
	case strings.HasPrefix(sqlState, "28"):
		return ErrAuth
	case strings.HasPrefix(sqlState, "42"):
		return ErrPrivilege
	case strings.HasPrefix(sqlState, "53"):
		return ErrResource
	case strings.HasPrefix(sqlState, "54"):
		return ErrLimit
	case strings.HasPrefix(sqlState, "xx"):
		return ErrInternal
	default:
		return ErrConnectionUnknown
	}
}

func tcpReachable(host, port string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 1*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
