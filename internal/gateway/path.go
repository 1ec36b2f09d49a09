package gateway

import "strings"

// cleanPath resolves dot segments and repeated slashes so that a route prefix
// cannot be bypassed with "/a/../b". It is used for route selection only; the
// engine sees the request URI as sent.
func cleanPath(path string) string {
	if path == "" {
		return "/"
	}

	trailing := strings.HasSuffix(path, "/") && path != "/"

	segments := strings.Split(path, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
		case "..":
			if len(kept) > 0 {
				kept = kept[:len(kept)-1]
			}
		default:
			kept = append(kept, seg)
		}
	}

	out := "/" + strings.Join(kept, "/")
	if trailing && out != "/" {
		out += "/"
	}
	return out
}
