package diagnosis

import "strings"

// The model is told not to write report sections in chat replies, but it
// overshoots often enough that a deliberate post-filter is kept: when a
// reply comes back report-shaped, only the actionable bullets survive.

var sectionHeaders = []string{"DIAGNOSIS", "ROOT CAUSE", "ACTION ITEMS", "VERIFICATION STEPS"}

var frenchMarkers = []string{
	"comment", "pourquoi", "que faire", "dois-je",
	"régler", "regler", "réparer", "reparer",
	"vérifier", "verifier", "panne",
}

// filterReply returns the reply verbatim unless it contains diagnostic
// section headers, in which case the bullet lines under ACTION ITEMS and
// VERIFICATION STEPS are extracted under a localized title.
func filterReply(question, reply string) string {
	var sawHeader bool
	var section string
	var bullets []string

	for _, line := range strings.Split(reply, "\n") {
		if h := headerOf(line); h != "" {
			sawHeader = true
			section = h
			continue
		}
		if (section == "ACTION ITEMS" || section == "VERIFICATION STEPS") && isBullet(line) {
			bullets = append(bullets, strings.TrimRight(line, " \t"))
		}
	}
	if !sawHeader || len(bullets) == 0 {
		return reply
	}

	var title = "What to do now:"
	if questionWantsFrench(question) {
		title = "À faire maintenant:"
	}
	return title + "\n" + strings.Join(bullets, "\n")
}

// headerOf matches a line against the four section headers, tolerating
// markdown decoration and a trailing colon.
func headerOf(line string) string {
	var s = strings.TrimSpace(line)
	s = strings.Trim(s, "#*_ \t")
	s = strings.TrimSuffix(s, ":")
	s = strings.Trim(s, "#*_ \t")
	var upper = strings.ToUpper(s)
	for _, h := range sectionHeaders {
		if upper == h {
			return h
		}
	}
	return ""
}

func isBullet(line string) bool {
	var s = strings.TrimSpace(line)
	if s == "" {
		return false
	}
	switch s[0] {
	case '-', '*':
		return true
	}
	if strings.HasPrefix(s, "•") {
		return true
	}
	var i = 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')')
}

func questionWantsFrench(question string) bool {
	var q = strings.ToLower(question)
	for _, marker := range frenchMarkers {
		if strings.Contains(q, marker) {
			return true
		}
	}
	return false
}
