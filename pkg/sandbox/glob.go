package sandbox

import "strings"

// matchPath reports whether path matches a glob pattern using the path
// dialect: '*' matches a run of non-separator characters, '**' matches
// across separators (including zero segments). This generalizes the
// teacher's validateSearchPath absolute/"../" checks into full pattern
// matching, as the policy engine's file-domain rules require.
func matchPath(pattern, path string) bool {
	return matchSegments(splitKeepSep(pattern, '/'), splitKeepSep(path, '/'))
}

// matchHost reports whether host matches a glob pattern using the host
// dialect: '*' matches a run of non-dot characters (it does not span
// labels), matching the teacher's policy_loader host-glob convention.
func matchHost(pattern, host string) bool {
	return matchSingleStar(strings.ToLower(pattern), strings.ToLower(host), '.')
}

func splitKeepSep(s string, sep byte) []string {
	return strings.Split(s, string(sep))
}

// matchSegments matches a pattern broken into '/'-delimited segments
// against a path broken the same way, honoring '**' as "zero or more
// segments" and '*' within a segment as "zero or more non-'/' runes".
func matchSegments(patternSegs, pathSegs []string) bool {
	if len(patternSegs) == 0 {
		return len(pathSegs) == 0
	}
	head := patternSegs[0]
	if head == "**" {
		if len(patternSegs) == 1 {
			return true
		}
		for i := 0; i <= len(pathSegs); i++ {
			if matchSegments(patternSegs[1:], pathSegs[i:]) {
				return true
			}
		}
		return false
	}
	if len(pathSegs) == 0 {
		return false
	}
	if !matchSingleStar(head, pathSegs[0], 0) {
		return false
	}
	return matchSegments(patternSegs[1:], pathSegs[1:])
}

// matchSingleStar matches pattern against s where '*' matches any run of
// characters other than stopByte (0 disables the restriction, matching
// any run of characters at all).
func matchSingleStar(pattern, s string, stopByte byte) bool {
	return matchStarRec(pattern, s, stopByte)
}

func matchStarRec(pattern, s string, stopByte byte) bool {
	if pattern == "" {
		return s == ""
	}
	if pattern[0] == '*' {
		if len(pattern) == 1 {
			if stopByte == 0 {
				return true
			}
			return strings.IndexByte(s, stopByte) == -1
		}
		for i := 0; i <= len(s); i++ {
			if stopByte != 0 && i > 0 && s[i-1] == stopByte {
				break
			}
			if matchStarRec(pattern[1:], s[i:], stopByte) {
				return true
			}
		}
		return false
	}
	if s == "" || pattern[0] != s[0] {
		return false
	}
	return matchStarRec(pattern[1:], s[1:], stopByte)
}

// specificity scores a pattern for rule-ordering purposes (§4.3): a
// literal pattern (no wildcard at all) outranks a wildcarded one, and
// among wildcarded patterns, more literal characters rank higher.
func specificity(pattern string) int {
	literal := strings.Count(pattern, "*") == 0
	literalChars := len(pattern) - strings.Count(pattern, "*")
	score := literalChars
	if literal {
		score += 1 << 20
	}
	return score
}

// Specificity exposes specificity for the policy package, which sorts
// rules across file/network/shell/secret pattern kinds uniformly.
func Specificity(pattern string) int {
	return specificity(pattern)
}

// MatchPathGlob exposes matchPath for the policy package's file-domain
// rule matching.
func MatchPathGlob(pattern, path string) bool {
	return matchPath(pattern, path)
}

// MatchHostGlob exposes matchHost for the policy package's network-domain
// rule matching.
func MatchHostGlob(pattern, host string) bool {
	return matchHost(pattern, host)
}

// MatchSecretGlob matches a secret-name pattern using the same
// single-star dialect as blocklist patterns ('*' matches any run of
// characters).
func MatchSecretGlob(pattern, name string) bool {
	return matchSingleStar(pattern, name, 0)
}
