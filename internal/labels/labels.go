// Package labels extracts behavior and emotion labels from free-form
// analysis text and cleans speech transcripts.
//
// Matching is deterministic: the first matching entry of an ordered table
// wins, and text that matches nothing maps to "unrecognized".
package labels

import (
	"regexp"
	"sort"
	"strings"

	"github.com/agentoven/companion/pkg/models"
)

// Behavior is one entry of the behavior catalog.
type Behavior struct {
	Code     string
	Label    string
	Synonyms []string
}

// Behaviors is the ordered behavior catalog. Synonyms include the phrasing
// the vision prompt asks the model to answer with.
var Behaviors = []Behavior{
	{"1", "focused work", []string{"focused work", "working attentively", "认真专注工作"}},
	{"2", "eating", []string{"eating", "吃东西"}},
	{"3", "drinking water", []string{"drinking water", "用杯子喝水"}},
	{"4", "drinking beverage", []string{"drinking beverage", "drinking a beverage", "喝饮料"}},
	{"5", "using phone", []string{"using phone", "using a phone", "playing with phone", "玩手机"}},
	{"6", "sleeping", []string{"sleeping", "睡觉"}},
	{"7", "other", []string{"other", "其他"}},
}

// Emotion is one entry of the emotion keyword table.
type Emotion struct {
	Label    string
	Keywords []string
}

// Emotions is checked in order; the first entry with a matching keyword wins.
// Latin keywords match whole words only.
var Emotions = []Emotion{
	{"happy", []string{"happy", "smiling", "joyful", "excited", "开心", "微笑", "愉悦", "兴奋"}},
	{"frustrated", []string{"frustrated", "frowning", "dejected", "disappointed", "沮丧", "皱眉", "低落", "失落"}},
	{"focused", []string{"focused", "concentrating", "absorbed", "attentive", "专注", "认真", "投入", "凝神"}},
	{"tired", []string{"tired", "sleepy", "exhausted", "yawning", "疲惫", "困倦", "乏力", "打哈欠"}},
	{"angry", []string{"angry", "furious", "irritated", "annoyed", "生气", "愤怒", "烦躁", "不满"}},
	{"calm", []string{"calm", "relaxed", "peaceful", "平静", "放松", "平和"}},
}

var (
	numbered  *regexp.Regexp
	synonymOf = map[string]Behavior{}
	emotionRe []*regexp.Regexp
	asciiWord = regexp.MustCompile(`^[a-z]+$`)
	asrTail   = regexp.MustCompile(`>\s*([^>]*)$`)
)

func init() {
	var alts []string
	for _, b := range Behaviors {
		for _, s := range b.Synonyms {
			synonymOf[strings.ToLower(s)] = b
			alts = append(alts, regexp.QuoteMeta(s))
		}
	}
	// Longer phrases first so "drinking water" is not cut short by a prefix.
	sort.SliceStable(alts, func(i, j int) bool { return len(alts[i]) > len(alts[j]) })
	numbered = regexp.MustCompile(`(?i)(\d+)\s*[.、:]?\s*(` + strings.Join(alts, "|") + `)`)

	for _, e := range Emotions {
		var words, others []string
		for _, kw := range e.Keywords {
			if asciiWord.MatchString(kw) {
				words = append(words, regexp.QuoteMeta(kw))
			} else {
				others = append(others, regexp.QuoteMeta(kw))
			}
		}
		var parts []string
		if len(words) > 0 {
			parts = append(parts, `\b(?:`+strings.Join(words, "|")+`)\b`)
		}
		parts = append(parts, others...)
		emotionRe = append(emotionRe, regexp.MustCompile(`(?i)`+strings.Join(parts, "|")))
	}
}

// ExtractBehavior returns the behavior code and canonical label found in raw.
// A numbered answer such as "2. eating" is preferred and its number is kept
// as the code; otherwise the catalog is scanned in order.
func ExtractBehavior(raw string) (code, label string) {
	if m := numbered.FindStringSubmatch(raw); m != nil {
		return m[1], synonymOf[strings.ToLower(m[2])].Label
	}
	lower := strings.ToLower(raw)
	for _, b := range Behaviors {
		for _, s := range b.Synonyms {
			if strings.Contains(lower, strings.ToLower(s)) {
				return b.Code, b.Label
			}
		}
	}
	return models.UnrecognizedCode, models.UnrecognizedLabel
}

// ExtractEmotion returns the first emotion whose keywords appear in raw once
// the behavior answer is cut out, so "1. focused work" does not read as
// "focused" and "unhappy" does not read as "happy".
func ExtractEmotion(raw string) string {
	rest := withoutBehavior(raw)
	for i, re := range emotionRe {
		if re.MatchString(rest) {
			return Emotions[i].Label
		}
	}
	return models.UnrecognizedLabel
}

// withoutBehavior removes the span ExtractBehavior would read its answer
// from. The result may be lower-cased.
func withoutBehavior(raw string) string {
	if loc := numbered.FindStringIndex(raw); loc != nil {
		return raw[:loc[0]] + " " + raw[loc[1]:]
	}
	lower := strings.ToLower(raw)
	for _, b := range Behaviors {
		for _, s := range b.Synonyms {
			s = strings.ToLower(s)
			if i := strings.Index(lower, s); i >= 0 {
				return lower[:i] + " " + lower[i+len(s):]
			}
		}
	}
	return raw
}

// CleanTranscript strips leading recognizer tags such as "<|en|><|HAPPY|>"
// and returns the trimmed text after the last '>'.
func CleanTranscript(raw string) string {
	if m := asrTail.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}
