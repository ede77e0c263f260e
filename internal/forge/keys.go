package forge

import "fmt"

// Cache key scheme. The location qualifier trails the key so that listing
// invalidation can match on prefix (the read kind) plus suffix (the
// location): a write under one repository must not evict listings cached for
// another.
const (
	issueKeyPrefix    = "issue:"
	commentsKeyPrefix = "comments:"
	diffKeyPrefix     = "diff:"
)

// IssueKey returns the cache key for an issue read.
func IssueKey(ref Ref) string {
	return fmt.Sprintf("%s%d@%s", issueKeyPrefix, ref.Number, ref.Location())
}

// CommentsKey returns the cache key for a comment listing.
func CommentsKey(ref Ref) string {
	return fmt.Sprintf("%s%d@%s", commentsKeyPrefix, ref.Number, ref.Location())
}

// DiffKey returns the cache key for a proposal diff.
func DiffKey(ref Ref) string {
	return fmt.Sprintf("%s%d@%s", diffKeyPrefix, ref.Number, ref.Location())
}

// locationSuffix is the suffix shared by every key under one repository.
func locationSuffix(location string) string {
	return "@" + location
}
