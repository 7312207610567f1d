package threatscan

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Role hijacking: attempts to impersonate conversation roles.
var roleHijackingPatterns = []string{
	`(?im)^\s*(system|user|assistant|human|ai)\s*:`,             // role prefix at line start
	`(?im)^(Human|Assistant|System|User|AI):\s*`,                // explicit role marker
	`(?i)<\|?(system|user|assistant|im_start|im_end)\|?>`,       // ChatML tags
	`(?i)\[INST\]|\[/INST\]`,                                    // Llama format
	`(?i)### (instruction|response|human|assistant)`,            // Alpaca format
	`(?i)<\|(begin|end)_of_text\|>`,                             // special tokens
	`(?i)<<SYS>>|<</SYS>>`,                                      // Llama2 system delimiters
}

// Instruction injection: attempts to override or replace instructions.
var instructionInjectionPatterns = []string{
	`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|context)`,
	`(?i)disregard\s+(everything|all|the)\s+(above|previous|prior)`,
	`(?i)forget\s+(everything|all|your)\s+(instructions?|training|rules|previous|prior)`,
	`(?i)new\s+(instructions?|rules?|prompt)\s*:`,
	`(?i)override\s+(previous|all|the)\s+(instructions?|rules?)`,
	`(?i)you\s+are\s+now\s+(a|an|in)\s+`,
	`(?i)pretend\s+(you|to\s+be)\s+`,
	`(?i)act\s+as\s+(if|though|a)\s+`,
	`(?i)jailbreak|DAN|do\s+anything\s+now`,
	`(?i)from\s+now\s+on,?\s+(you|ignore|your)`,
	`(?i)your\s+new\s+(role|instructions?|persona)`,
	`(?i)stop\s+being\s+(an?\s+)?(ai|assistant|helpful)`,
	`(?i)you\s+must\s+(now\s+)?ignore`,
	`(?i)begin\s+(your\s+)?new\s+(instructions?|session|role)`,
}

// Delimiter injection: attempts to escape the prompt context.
var delimiterInjectionPatterns = []string{
	"```+\\s*(system|prompt|instruction)",  // code block escape
	`-{3,}\s*(system|new|instruction)`,     // markdown separator abuse
	`#{3,}\s*(system|instruction|prompt)`,  // header injection
	`</?prompt>|</?instruction>|</?system>`,
	`</?(user|assistant|message|context)>`,
	`\[/?INST\]`,
	`<\|[a-z_]+\|>`, // special token shapes like <|endoftext|>
	`={3,}\s*(system|instruction|prompt)`,  // equals separator abuse
}

// Patterns stripped from content before it is embedded in a prompt.
var sanitizationPatterns = []string{
	`(?m)^\s*(Human|Assistant|System|User|AI):\s*`,
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions?`,
	`(?i)disregard\s+(all\s+)?(previous|prior|above)`,
	`(?i)forget\s+(all\s+)?(previous|prior|above)`,
	`</?(system|user|assistant|prompt|instruction)>`,
	`\[/?INST\]`,
	`<\|[a-z_]+\|>`,
	`<<SYS>>|<</SYS>>`,
	`<\|(begin|end)_of_text\|>`,
}

// Patterns in model output that suggest an injection took effect.
var responseInjectionIndicators = []string{
	`(?m)^(Human|Assistant|System):`,
	`(?i)ignore.*instruction`,
	`(?i)I\s+(cannot|won't|refuse|am\s+unable)`,
	`(?i)as\s+an?\s+(ai|language\s+model|assistant),?\s+I`,
	`(?i)my\s+(previous\s+)?instructions?\s+(are|were|told)`,
}

var (
	base64Block    = regexp.MustCompile(`[A-Za-z0-9+/]{50,}={0,2}`)
	zeroWidthChars = regexp.MustCompile(`[\x{200B}-\x{200F}\x{2028}-\x{202F}\x{2060}-\x{206F}]`)
	homoglyphChars = regexp.MustCompile(`[\x{0400}-\x{04FF}\x{0370}-\x{03FF}]`)
	latinChars     = regexp.MustCompile(`[a-zA-Z]`)
	bidiChars      = regexp.MustCompile(`[\x{202A}-\x{202E}\x{2066}-\x{2069}]`)
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	codeFence      = regexp.MustCompile("```[\\s\\S]*?```")
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// ruleSet holds every compiled detection pattern. Built once at package
// init and shared read-only by all scanners.
type ruleSet struct {
	roleHijacking        []*regexp.Regexp
	instructionInjection []*regexp.Regexp
	delimiterInjection   []*regexp.Regexp
	sanitization         []*regexp.Regexp
	responseIndicators   []*regexp.Regexp
}

var defaultRules = &ruleSet{
	roleHijacking:        compileAll(roleHijackingPatterns),
	instructionInjection: compileAll(instructionInjectionPatterns),
	delimiterInjection:   compileAll(delimiterInjectionPatterns),
	sanitization:         compileAll(sanitizationPatterns),
	responseIndicators:   compileAll(responseInjectionIndicators),
}

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

const (
	minRepeatUnit = 10
	maxRepeatUnit = 256
	minRepeats    = 11

	maxLineLength = 10_000
)

// detectContextAttacks finds attempts to exhaust or pad the context
// window: long repetition runs, very long lines, and newline stuffing.
func detectContextAttacks(content string) []string {
	var issues []string

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if utf8.RuneCountInString(line) < minRepeatUnit*minRepeats {
			continue
		}
		runes := []rune(line)
		for _, r := range detectRepetition(runes) {
			unit := string(runes[r.start : r.start+min(30, r.period)])
			repeats := (r.end - r.start) / r.period
			issues = append(issues, fmt.Sprintf("Excessive repetition detected: '%s...' repeated %d times", unit, repeats))
		}
	}

	for i, line := range lines {
		if utf8.RuneCountInString(line) > maxLineLength {
			issues = append(issues, fmt.Sprintf("Line %d exceeds 10KB - possible context stuffing", i+1))
		}
	}

	if n := utf8.RuneCountInString(content); n > 0 && 3*strings.Count(content, "\n") > n {
		issues = append(issues, "Excessive newlines - possible context padding")
	}

	return issues
}

type repeatRegion struct {
	start, end, period int
}

// detectRepetition finds runs where a unit of at least minRepeatUnit runes
// repeats minRepeats or more times consecutively. Candidate periods are
// scanned up to maxRepeatUnit; for each period a single pass compares each
// rune to the one a period earlier, so the whole search is linear per
// period with no backtracking on adversarial input.
func detectRepetition(line []rune) []repeatRegion {
	n := len(line)
	var regions []repeatRegion

	maxPeriod := min(maxRepeatUnit, n/minRepeats)
	for p := minRepeatUnit; p <= maxPeriod; p++ {
		run := 0
		for i := p; i < n; i++ {
			if line[i] == line[i-p] {
				run++
				continue
			}
			if run >= (minRepeats-1)*p {
				regions = append(regions, repeatRegion{start: i - run - p, end: i, period: p})
			}
			run = 0
		}
		if run >= (minRepeats-1)*p {
			regions = append(regions, repeatRegion{start: n - run - p, end: n, period: p})
		}
	}

	// Earliest region wins; ties go to the shortest period. Overlapping
	// regions describe the same run at a multiple of its period.
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].start != regions[j].start {
			return regions[i].start < regions[j].start
		}
		return regions[i].period < regions[j].period
	})

	var kept []repeatRegion
	lastEnd := 0
	for _, r := range regions {
		if r.start >= lastEnd {
			kept = append(kept, r)
			lastEnd = r.end
		}
	}
	return kept
}

// detectEncodingTricks finds attacks hidden behind an encoding layer:
// base64 blocks that decode to override phrases, invisible unicode,
// homoglyph script mixing, and bidi override characters.
func (r *ruleSet) detectEncodingTricks(content string) []string {
	var issues []string

	for _, block := range base64Block.FindAllString(content, -1) {
		decoded, err := base64.StdEncoding.DecodeString(block)
		if err != nil {
			continue
		}
		text := strings.ToValidUTF8(string(decoded), "")
		for _, p := range r.instructionInjection {
			if p.MatchString(text) {
				issues = append(issues, "Base64-encoded injection detected")
				break
			}
		}
	}

	if zeroWidthChars.MatchString(content) {
		issues = append(issues, "Zero-width or invisible unicode characters detected")
	}

	if homoglyphChars.MatchString(content) && latinChars.MatchString(content) {
		issues = append(issues, "Mixed script detected (possible homoglyph attack)")
	}

	if bidiChars.MatchString(content) {
		issues = append(issues, "Bidirectional text override characters detected")
	}

	return issues
}

// validateChangelogFormat checks that content is shaped like a changelog
// rather than an arbitrary blob: some structure, not mostly code, not a
// link farm.
func validateChangelogFormat(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return []string{"Empty content"}
	}

	var issues []string

	hasHeaders := false
	hasBullets := false
	for _, line := range strings.Split(trimmed, "\n") {
		if strings.HasPrefix(line, "#") {
			hasHeaders = true
		}
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "-") || strings.HasPrefix(t, "*") || strings.HasPrefix(t, "•") {
			hasBullets = true
		}
	}
	if !hasHeaders && !hasBullets {
		issues = append(issues, "Content doesn't look like a changelog (no headers or bullet points)")
	}

	codeChars := 0
	for _, m := range codeFence.FindAllString(content, -1) {
		codeChars += len(m)
	}
	if len(content) > 0 && float64(codeChars)/float64(len(content)) > 0.5 {
		issues = append(issues, "Content is >50% code blocks - unusual for changelog")
	}

	if urls := urlPattern.FindAllString(content, -1); len(urls) > 50 {
		issues = append(issues, fmt.Sprintf("Excessive URLs (%d) - possible spam/injection", len(urls)))
	}

	return issues
}
