//go:build darwin

package discovery

const soReusePort = 0x0200 // SO_REUSEPORT
