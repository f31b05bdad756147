package entity

import (
	"sort"
	"strings"
)

// Tags are kept as ordered sets: first occurrence wins, duplicates are dropped.

func ContainsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func AddTags(tags []string, extra ...string) []string {
	out := append([]string(nil), tags...)
	for _, t := range extra {
		if t == "" || ContainsTag(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func UnionTags(a, b []string) []string {
	return AddTags(NormalizeTags(a), b...)
}

func NormalizeTags(tags []string) []string {
	return AddTags(nil, tags...)
}

// ContainsFold reports whether s contains substr, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func CopyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RankKnowledge orders by confidence descending, then usage count descending.
func RankKnowledge(items []*Knowledge) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence > items[j].Confidence
		}
		return items[i].UsageCount > items[j].UsageCount
	})
}

// DedupKnowledge keeps the highest-confidence instance per id, preserving first-seen order.
func DedupKnowledge(items []*Knowledge) []*Knowledge {
	pos := make(map[string]int, len(items))
	out := make([]*Knowledge, 0, len(items))
	for _, k := range items {
		if k == nil {
			continue
		}
		if i, ok := pos[k.Id]; ok {
			if k.Confidence > out[i].Confidence {
				out[i] = k
			}
			continue
		}
		pos[k.Id] = len(out)
		out = append(out, k)
	}
	return out
}
