// Package discovery publishes MLLP listeners via mDNS/DNS-SD.
//
// Advertising is optional; most HL7 deployments use statically configured
// endpoints. When enabled, a listener is registered as _mllp._tcp with TXT
// records carrying the HL7 version hint and whether TLS is required.
package discovery
