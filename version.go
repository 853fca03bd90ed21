package flock

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// BusVersion is this build's bus protocol version, reported in every
// PeerDescriptor and checked by the directory client when a
// PeerStarted event arrives. It follows semantic versioning: a peer
// whose major version differs is logged at warn level and still added,
// since the wire-visible registration and directory-event shapes are
// only guaranteed compatible within a major version.
const BusVersion = "1.0.0"

// CheckVersionCompatible reports whether peerVersion may register
// against this build's BusVersion: both must parse as valid semver and
// must share the same major version. An empty peerVersion is treated
// as incompatible rather than assumed compatible, since a peer that
// omits its version cannot be trusted to honor the wire contract.
func CheckVersionCompatible(peerVersion string) error {
	if peerVersion == "" {
		return fmt.Errorf("flock: peer reported no bus version")
	}
	mine, err := semver.NewVersion(BusVersion)
	if err != nil {
		return fmt.Errorf("flock: invalid local bus version %q: %w", BusVersion, err)
	}
	theirs, err := semver.NewVersion(peerVersion)
	if err != nil {
		return fmt.Errorf("flock: invalid peer bus version %q: %w", peerVersion, err)
	}
	if mine.Major() != theirs.Major() {
		return fmt.Errorf("flock: incompatible bus version %s (local is %s)", peerVersion, BusVersion)
	}
	return nil
}
