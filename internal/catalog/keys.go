package catalog

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	problemKeyPrefix = "problem:id:"
	countKey         = "problem_count"
	tagsKey          = "all_tags"
	searchKeyPrefix  = "search:"
)

// Resource names used in metrics labels and logs.
const (
	resourceProblem = "problem"
	resourceCount   = "count"
	resourceTags    = "tags"
	resourceSearch  = "search"
)

func problemKey(id int64) string {
	return problemKeyPrefix + strconv.FormatInt(id, 10)
}

// searchKey derives the cache key for a normalized query. url.Values.Encode
// sorts parameter names and escapes values, so the key is deterministic and
// a term or tag containing separators cannot collide with another query.
func searchKey(q SearchQuery) string {
	v := url.Values{}
	v.Set("q", q.Term)
	v.Set("d", q.Difficulty)
	v["t"] = q.Tags
	v.Set("p", strconv.Itoa(q.Page))
	v.Set("s", strconv.Itoa(q.Size))
	return searchKeyPrefix + v.Encode()
}

// SearchPattern matches every search key in the remote tier.
func SearchPattern() string {
	return searchKeyPrefix + "*"
}

// SearchPrefix is the local-tier prefix shared by every search key.
func SearchPrefix() string {
	return searchKeyPrefix
}

// ProblemKey is exported for operator tooling that purges a single record.
func ProblemKey(id int64) string {
	return problemKey(id)
}

// KeyPrefixes lists a prefix covering every key the catalog caches.
func KeyPrefixes() []string {
	return []string{problemKeyPrefix, countKey, tagsKey, searchKeyPrefix}
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
