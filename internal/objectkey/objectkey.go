// Package objectkey derives canonical object store keys for each stage of the
// content lifecycle. Everything here is pure: no I/O, and the only time input
// is the clock passed to [Deriver].
package objectkey

import (
	"fmt"
	"strings"
	"time"

	"github.com/keithlinneman/listings-admin/internal/pathutil"
	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

type Stage string

const (
	StagePending          Stage = "pending"
	StageApprovedOriginal Stage = "approved_original"
	StageApprovedEdited   Stage = "approved_edited"
	StageFeatured         Stage = "featured"
)

// Top level prefixes in the media bucket, one per lifecycle stage.
const (
	PendingPrefix   = "pending-uploads/"
	ApprovedPrefix  = "approved-content/"
	FeaturedPrefix  = "featured-showcase/"
	CuratedPrefix   = FeaturedPrefix + "curated-properties/"
	PublicAssetRoot = "assets/properties/"
)

// SanitizeFileName replaces every byte outside [A-Za-z0-9.-] with '_'.
// Multi-byte runes become one '_' per byte.
func SanitizeFileName(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

// EditedFileName marks a file name as the enhanced variant by replacing the
// FIRST '.' with "_enhanced.". "photo.jpg" becomes "photo_enhanced.jpg" but
// "my.photo.jpg" becomes "my_enhanced.photo.jpg". Names without a dot are
// returned unchanged.
// TODO: switch to the last dot once stored edited keys have been migrated.
func EditedFileName(name string) string {
	return strings.Replace(name, ".", "_enhanced.", 1)
}

// Derive maps a stage and identifiers to a key. now is only used by the
// featured stage (UTC date prefix). Unknown stages use the pending template.
func Derive(stage Stage, userID, propertyID, fileName string, now time.Time) string {
	safe := SanitizeFileName(fileName)
	switch stage {
	case StageApprovedOriginal:
		return fmt.Sprintf("%s%s/property-%s/original/%s", ApprovedPrefix, userID, propertyID, safe)
	case StageApprovedEdited:
		return fmt.Sprintf("%s%s/property-%s/edited/%s", ApprovedPrefix, userID, propertyID, EditedFileName(safe))
	case StageFeatured:
		return fmt.Sprintf("%s%s_%s", CuratedPrefix, now.UTC().Format(time.DateOnly), safe)
	default:
		return fmt.Sprintf("%s%s/property-%s/images/%s", PendingPrefix, userID, propertyID, safe)
	}
}

// PublicKey is the key of the featured mirror in the public web bucket.
func PublicKey(propertyID, fileName string) string {
	return PublicAssetRoot + propertyID + "/" + SanitizeFileName(fileName)
}

// StatusPrefix maps a listing status filter to a media bucket prefix.
// "all" and "" list the whole bucket. ok is false for unknown statuses.
func StatusPrefix(status string) (prefix string, ok bool) {
	switch status {
	case "", "all":
		return "", true
	case "pending":
		return PendingPrefix, true
	case "approved":
		return ApprovedPrefix, true
	case "featured":
		return FeaturedPrefix, true
	}
	return "", false
}

// BaseName returns the last path segment of key.
func BaseName(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// ValidateSegment rejects identifiers that would change the shape of a key:
// empty values, slashes, and dot segments.
func ValidateSegment(field, v string) error {
	if v == "" {
		return xerrors.Newf("%s is required", field)
	}
	if !pathutil.IsSingleSegment(v) {
		return xerrors.Newf("%s must be a single path segment", field)
	}
	return nil
}
