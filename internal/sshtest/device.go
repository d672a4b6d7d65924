package sshtest

import "strings"

// Sample "show version" banners.
const (
	IOSVersion   = "Cisco IOS Software, C2960 Software (C2960-LANBASEK9-M), Version 15.0(2)SE11, RELEASE SOFTWARE (fc3)"
	NXOSVersion  = "Cisco Nexus Operating System (NX-OS) Software\nTAC support: http://www.cisco.com/tac"
	JunosVersion = "Hostname: mx01\nModel: mx204\nJunos: 21.4R3"
)

// Rejected is the line IOS prints under a refused command.
const Rejected = "% Invalid input detected at '^' marker."

// Script builds a LineHandler that answers "show version" with version,
// rejects every line listed in reject, and returns canned output for the
// rest from replies. Unlisted lines produce no output.
func Script(version string, replies map[string]string, reject ...string) LineHandler {
	rejected := make(map[string]bool, len(reject))
	for _, r := range reject {
		rejected[r] = true
	}
	return func(line string) string {
		line = strings.TrimSpace(line)
		switch {
		case line == "show version":
			return version
		case rejected[line]:
			return Rejected
		}
		return replies[line]
	}
}
