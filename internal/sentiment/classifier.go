package sentiment

import (
	"context"
	"regexp"
	"strings"

	"github.com/openedtech/tutorcore/internal/profile"
)

// emotionKeywords maps each sentiment class to the phrases that signal
// it. Phrases are matched on word boundaries, case-insensitively; CJK
// phrases have no word boundaries and are matched as substrings.
var emotionKeywords = map[string][]string{
	profile.SentimentFrustrated: {
		"frustrated", "frustrating", "annoying", "difficult",
		"hard", "trouble", "problem", "error", "bug", "broken", "not working",
		"doesn't work", "can't", "cannot", "failed", "failure", "stuck",
		"困惑", "困难", "问题", "错误", "不行", "不会", "失败", "卡住",
	},
	profile.SentimentConfused: {
		"confused", "confusing", "unclear", "not sure", "don't understand",
		"what does", "how to", "why", "what is", "explain", "help",
		"不明白", "不清楚", "不懂", "不知道", "怎么", "为什么", "解释", "帮助",
	},
	profile.SentimentExcited: {
		"excited", "great", "awesome", "amazing", "wonderful", "perfect",
		"working", "success", "solved", "figured out", "got it",
		"兴奋", "太好了", "棒", "完美", "成功", "解决了", "明白了",
	},
	profile.SentimentNeutral: {
		"ok", "fine", "alright", "good", "yes", "no", "maybe",
		"好的", "可以", "行", "是的", "不是", "也许",
	},
}

// Classifier scores messages against per-emotion keyword lists. It is
// deterministic and needs no external service.
type Classifier struct {
	patterns map[string][]*regexp.Regexp
}

func NewClassifier() *Classifier {
	c := &Classifier{patterns: make(map[string][]*regexp.Regexp, len(emotionKeywords))}
	for label, keywords := range emotionKeywords {
		for _, kw := range keywords {
			quoted := regexp.QuoteMeta(strings.ToLower(kw))
			if isASCII(kw) {
				quoted = `\b` + quoted + `\b`
			}
			c.patterns[label] = append(c.patterns[label], regexp.MustCompile(quoted))
		}
	}
	return c
}

// Classify returns the dominant sentiment class and a confidence in
// [0, 1]. Text with no keyword hits is neutral with full confidence.
func (c *Classifier) Classify(_ context.Context, text string) (string, float64, error) {
	if strings.TrimSpace(text) == "" {
		return profile.SentimentNeutral, 1.0, nil
	}
	lower := strings.ToLower(text)

	var (
		best      string
		bestScore int
		total     int
	)
	for _, label := range []string{
		profile.SentimentFrustrated,
		profile.SentimentConfused,
		profile.SentimentExcited,
		profile.SentimentNeutral,
	} {
		score := 0
		for _, pat := range c.patterns[label] {
			score += len(pat.FindAllStringIndex(lower, -1))
		}
		total += score
		if score > bestScore {
			best, bestScore = label, score
		}
	}
	if bestScore == 0 {
		return profile.SentimentNeutral, 1.0, nil
	}

	words := len(strings.Fields(text))
	if words < 1 {
		words = 1
	}
	confidence := float64(total) / float64(words)
	if confidence > 1 {
		confidence = 1
	}
	return best, confidence, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
