package detector

import (
	"net"
	"strconv"
)

// TCPDetector reports a server as alive when a TCP connect to Host:Port succeeds.
// No timeout is applied beyond the OS default. Any dial error (refused,
// unreachable, timed out) means "not ready yet" and is never returned.
type TCPDetector struct {
	Host string // defaults to 127.0.0.1
	Port int
}

// Loopback returns a TCPDetector for 127.0.0.1:port.
func Loopback(port int) TCPDetector { return TCPDetector{Host: "127.0.0.1", Port: port} }

func (d TCPDetector) addr() string {
	host := d.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(d.Port))
}

func (d TCPDetector) Alive() (bool, error) {
	conn, err := net.Dial("tcp", d.addr())
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (d TCPDetector) Describe() string { return "tcp:" + d.addr() }
