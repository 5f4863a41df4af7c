package store

import "strings"

// joinRoles/splitRoles store a node's role list as a comma-separated
// column rather than a normalized join table — the role set is small
// and never queried independently of its owning node.
func joinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

func splitRoles(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// marshalTags/unmarshalTags encode a node's tag map as key=value pairs
// joined by ';'. Tags are operator-supplied labels (site, rack, role
// hints) with no embedded '=' or ';' by convention.
func marshalTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ";")
}

func unmarshalTags(v string) map[string]string {
	if v == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ";") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}
