package common

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
)

// AnonymizeIP truncates an address before it is ever hashed or stored:
// the last octet of an IPv4 address is zeroed, an IPv6 address keeps only
// its /48 prefix. Unparseable input is returned as-is.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	if addr.Is4() {
		b := addr.As4()
		b[3] = 0
		return netip.AddrFrom4(b).String()
	}
	b := addr.As16()
	for i := 6; i < 16; i++ {
		b[i] = 0
	}
	return netip.AddrFrom16(b).String()
}

// HashIP returns the hex SHA-256 of the anonymized address combined with
// the server secret. The raw IP never reaches storage.
func HashIP(ip, secret string) string {
	sum := sha256.Sum256([]byte(AnonymizeIP(ip) + secret))
	return hex.EncodeToString(sum[:])
}
