// Package ioc extracts indicators of compromise from alert text so the
// enrichment orchestrator can decide which providers are relevant to a
// group. Defanged indicators (hxxp://, domain[.]com) common in security
// communications are restored before matching.
package ioc

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Indicators holds the extracted IOCs by type, deduplicated and sorted.
type Indicators struct {
	IPs     []string `json:"ips,omitempty"`
	Domains []string `json:"domains,omitempty"`
	URLs    []string `json:"urls,omitempty"`
	MD5     []string `json:"md5,omitempty"`
	SHA1    []string `json:"sha1,omitempty"`
	SHA256  []string `json:"sha256,omitempty"`
}

// Empty reports whether no indicators were found.
func (i Indicators) Empty() bool {
	return len(i.IPs) == 0 && len(i.Domains) == 0 && len(i.URLs) == 0 &&
		len(i.MD5) == 0 && len(i.SHA1) == 0 && len(i.SHA256) == 0
}

// HasURL reports whether any URL or domain indicator is present.
func (i Indicators) HasURL() bool {
	return len(i.URLs) > 0 || len(i.Domains) > 0
}

// HasIP reports whether any IP indicator is present.
func (i Indicators) HasIP() bool {
	return len(i.IPs) > 0
}

// HasHash reports whether any file-hash indicator is present.
func (i Indicators) HasHash() bool {
	return len(i.MD5) > 0 || len(i.SHA1) > 0 || len(i.SHA256) > 0
}

var (
	ipPattern     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	domainPattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}\b`)
	urlPattern    = regexp.MustCompile(`\bh[tx]{2}ps?://\S+`)
	md5Pattern    = regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)
	sha1Pattern   = regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`)
	sha256Pattern = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)
)

// File extensions that the domain pattern misreads as TLDs.
var fileExtensions = map[string]bool{
	"txt": true, "log": true, "jpg": true, "png": true, "pdf": true,
	"doc": true, "docx": true, "xlsx": true, "zip": true, "exe": true,
}

// Refang restores defanged indicators to their normal form:
// hxxp:// -> http://, domain[.]com -> domain.com.
func Refang(text string) string {
	text = strings.ReplaceAll(text, "hxxp://", "http://")
	text = strings.ReplaceAll(text, "hxxps://", "https://")
	text = strings.ReplaceAll(text, "[.]", ".")
	text = strings.ReplaceAll(text, `\.`, ".")
	return text
}

// Extract scans text and returns all indicators found in one pass.
func Extract(text string) Indicators {
	refanged := Refang(text)

	return Indicators{
		IPs:     extractIPs(refanged),
		Domains: extractDomains(refanged),
		URLs:    uniqueSorted(urlPattern.FindAllString(refanged, -1)),
		// Longer hashes first so a SHA256 is not also counted as SHA1/MD5
		// substrings; the word-boundary anchors already prevent that here,
		// but keep the ordering from the reference behaviour.
		SHA256: uniqueSorted(sha256Pattern.FindAllString(refanged, -1)),
		SHA1:   uniqueSorted(sha1Pattern.FindAllString(refanged, -1)),
		MD5:    uniqueSorted(md5Pattern.FindAllString(refanged, -1)),
	}
}

func extractIPs(text string) []string {
	var valid []string
	for _, ip := range ipPattern.FindAllString(text, -1) {
		if validIP(ip) {
			valid = append(valid, ip)
		}
	}
	return uniqueSorted(valid)
}

// validIP filters octet-range violations and version-number lookalikes
// such as "1.2.3.4" appearing in "Version 1.2.3.4".
func validIP(ip string) bool {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return false
	}
	nums := make([]int, 4)
	for i, o := range octets {
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		nums[i] = n
	}
	// Version numbers typically start with 1. or 2. and have small octets.
	if (nums[0] == 1 || nums[0] == 2) && nums[1] < 10 && nums[2] < 10 && nums[3] < 10 {
		return false
	}
	return true
}

func extractDomains(text string) []string {
	var valid []string
	for _, d := range domainPattern.FindAllString(text, -1) {
		if validDomain(d) {
			valid = append(valid, strings.ToLower(d))
		}
	}
	return uniqueSorted(valid)
}

func validDomain(domain string) bool {
	if !strings.Contains(domain, ".") {
		return false
	}
	parts := strings.Split(domain, ".")
	tld := strings.ToLower(parts[len(parts)-1])
	if len(tld) < 2 || fileExtensions[tld] {
		return false
	}
	return true
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
