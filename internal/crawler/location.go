package crawler

import (
	"fmt"
	"strings"
)

const locationScheme = "storage://"

// Location renders the URI of a prefix (or key) inside bucket.
func Location(bucket, prefix string) string {
	return locationScheme + bucket + "/" + strings.TrimPrefix(prefix, "/")
}

// ParseLocation splits a storage URI into bucket and prefix.
func ParseLocation(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, locationScheme)
	if !ok {
		return "", "", fmt.Errorf("storage location %q: missing %s scheme", uri, locationScheme)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("storage location %q: empty bucket", uri)
	}
	return bucket, prefix, nil
}

// ObjectPrefix returns the folder holding a record's objects:
// files/<MM-YYYY>/<DD-MM-YYYY>/<folder>/. Empty dates become "unknown".
func ObjectPrefix(partitionLabel, publishedDate, folder string) string {
	return "files/" + pathSegment(partitionLabel) + "/" + pathSegment(publishedDate) + "/" + folder + "/"
}

// RecordFolder turns a ref number into the single path segment that names a
// record's folder and primary document. Separators become "-", so
// "UD1234/2010" is stored as "UD1234-2010".
func RecordFolder(ref string) string {
	return strings.NewReplacer("/", "-", "\\", "-").Replace(strings.TrimSpace(ref))
}

func pathSegment(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return "unknown"
	}
	return strings.ReplaceAll(date, "/", "-")
}
