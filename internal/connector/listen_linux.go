//go:build linux

package connector

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listen は backlog を指定してリッスンソケットを作成する
//
// net.Listen は backlog を選べないため、ソケットを直接組み立てて
// net.FileListener で包む。backlog が 0 以下なら SOMAXCONN を使う。
func listen(addr string, backlog int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	family, sa, err := sockaddr(tcpAddr)
	if err != nil {
		return nil, err
	}
	dualStack := family == unix.AF_INET6 && (tcpAddr.IP == nil || tcpAddr.IP.IsUnspecified())

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil && dualStack && errors.Is(err, unix.EAFNOSUPPORT) {
		// IPv6 が使えないホストでは IPv4 のワイルドカードに落とす
		family, sa, dualStack = unix.AF_INET, &unix.SockaddrInet4{Port: tcpAddr.Port}, false
		fd, err = unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	}
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if dualStack {
		// IPv4 射影アドレスも受け付ける
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("setsockopt IPV6_V6ONLY: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	// FileListener は fd を複製するので元の File は閉じてよい
	f := os.NewFile(uintptr(fd), "tcp:"+addr)
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	return ln, nil
}

// sockaddr はアドレスファミリとソケットアドレスを返す。
// ホスト未指定とワイルドカードは IPv6 のデュアルスタックにする
func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if addr.IP == nil || addr.IP.IsUnspecified() {
		return unix.AF_INET6, &unix.SockaddrInet6{Port: addr.Port}, nil
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		return unix.AF_INET6, sa, nil
	}
	return 0, nil, fmt.Errorf("unsupported address %s", addr)
}
