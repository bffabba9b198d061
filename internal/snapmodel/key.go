package snapmodel

import "fmt"

// Mode selects which upload shape a snapshot is migrated/validated under:
// a single whole-volume raw image, or one tar archive per partition.
type Mode string

const (
	ModeDD  Mode = "dd"
	ModeTar Mode = "tar"
)

// ObjectKey derives the deterministic object-store key for a snapshot.
//
// Shapes:
//
//	raw-image:    "{volumeId}/{ISO8601 startTime} {snapshotId}[ - {description}].img.lz4"
//	partition-tar: "{volumeId}/{ISO8601 startTime} {snapshotId}[ - {description}][.{partitionName}].tar.lz4"
//
// The suffix is a function of mode, not of partitionName: tar mode can
// still produce a whole-volume archive with an empty partitionName (a
// volume with no partition table), and that object is still .tar.lz4.
//
// {volumeId} is the snapshot's source volume (snap.VolumeID), not the
// temporary volume, so every run derives the same key for a snapshot; vol
// does not enter the key.
func ObjectKey(vol *Volume, snap *Snapshot, partitionName string, mode Mode) string {
	key := fmt.Sprintf("%s/%s %s", snap.VolumeID, snap.StartTime.Format("2006-01-02T15:04:05-07:00"), snap.ID)

	if snap.Description != "" {
		key += " - " + snap.Description
	}

	if partitionName != "" {
		key += "." + partitionName
	}

	if mode == ModeDD {
		return key + ".img.lz4"
	}
	return key + ".tar.lz4"
}

// sanitize replaces every byte NOT in [A-Za-z0-9+=._:/\s-] with "_" per
// the ObjectTags invariant.
func sanitize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAllowedTagByte(c) {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

func isAllowedTagByte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '+' || c == '=' || c == '.' || c == '_' || c == ':' || c == '/' || c == '-':
		return true
	case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f':
		return true
	default:
		return false
	}
}

// ObjectTags derives the tag set attached to an uploaded object: the
// snapshot's user tags with the two coordination tags (the claim tag and
// its nonce companion) removed, and every remaining key/value sanitized.
func ObjectTags(snap *Snapshot, claimTagKey, nonceTagKey string) map[string]string {
	out := make(map[string]string, len(snap.Tags))
	for k, v := range snap.Tags {
		if k == claimTagKey || k == nonceTagKey {
			continue
		}
		out[sanitize(k)] = sanitize(v)
	}
	return out
}
