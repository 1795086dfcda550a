package replay

import (
	"bufio"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"dsda-uploader/internal/demo"
)

// TicRate is the engine's simulation rate in tics per second.
const TicRate = 35

var (
	parenSpaceRe = regexp.MustCompile(`\(\s+`)
	mapRe        = regexp.MustCompile(`^MAP(\d+)$`)
)

// Token positions in a levelstat line such as
//
//	MAP01 - 1:23.00 (1:23)  K: 12/12  I: 6/9  S: 2/2
//
// Coop lines carry a per-player breakdown after each tally and have 13 tokens.
const (
	idxLevel       = 0
	idxTime        = 2
	idxTotal       = 3
	idxKills       = 5
	idxItems       = 7
	idxSecrets     = 9
	idxItemsCoop   = 8
	idxSecretsCoop = 11
	soloTokenCount = 10
	coopTokenCount = 13
)

// ParseLevelstat parses the engine's levelstat file. It returns the levels in
// order plus the cumulative time printed on the final line.
func ParseLevelstat(text string) ([]demo.LevelStat, string, error) {
	var (
		levels []demo.LevelStat
		total  string
	)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		stat, lineTotal, err := parseLevelstatLine(line)
		if err != nil {
			return nil, "", err
		}
		levels = append(levels, stat)
		total = lineTotal
	}
	if err := sc.Err(); err != nil {
		return nil, "", fmt.Errorf("reading levelstat: %w", err)
	}
	return levels, total, nil
}

func parseLevelstatLine(line string) (demo.LevelStat, string, error) {
	tokens := strings.Fields(parenSpaceRe.ReplaceAllString(line, "("))

	var stat demo.LevelStat
	var itemsIdx, secretsIdx int
	switch len(tokens) {
	case soloTokenCount:
		itemsIdx, secretsIdx = idxItems, idxSecrets
	case coopTokenCount:
		itemsIdx, secretsIdx = idxItemsCoop, idxSecretsCoop
		stat.Coop = true
	default:
		return demo.LevelStat{}, "", fmt.Errorf("unrecognized levelstat line %q", line)
	}

	stat.Level, stat.SecretExit = normalizeLevel(tokens[idxLevel])
	stat.Time = tokens[idxTime]
	tics, err := TimeToTics(stat.Time)
	if err != nil {
		return demo.LevelStat{}, "", fmt.Errorf("levelstat line %q: %w", line, err)
	}
	stat.Tics = tics

	if stat.Kills, err = parseTally(tokens[idxKills]); err != nil {
		return demo.LevelStat{}, "", fmt.Errorf("levelstat kills: %w", err)
	}
	if stat.Items, err = parseTally(tokens[itemsIdx]); err != nil {
		return demo.LevelStat{}, "", fmt.Errorf("levelstat items: %w", err)
	}
	if stat.Secrets, err = parseTally(tokens[secretsIdx]); err != nil {
		return demo.LevelStat{}, "", fmt.Errorf("levelstat secrets: %w", err)
	}

	total := strings.TrimSuffix(strings.TrimPrefix(tokens[idxTotal], "("), ")")
	return stat, total, nil
}

// normalizeLevel converts "MAP07" to "Map 07" and strips a trailing secret
// exit marker. Episode maps such as "E1M8" are kept as is.
func normalizeLevel(token string) (string, bool) {
	secret := false
	if len(token) > 1 && (strings.HasSuffix(token, "s") || strings.HasSuffix(token, "S")) {
		token = token[:len(token)-1]
		secret = true
	}
	if m := mapRe.FindStringSubmatch(strings.ToUpper(token)); m != nil {
		return "Map " + m[1], secret
	}
	return token, secret
}

func parseTally(s string) (demo.Tally, error) {
	count, total, ok := strings.Cut(s, "/")
	if !ok {
		return demo.Tally{}, fmt.Errorf("%q is not a count/total pair", s)
	}
	c, err := strconv.Atoi(count)
	if err != nil {
		return demo.Tally{}, fmt.Errorf("count %q: %w", count, err)
	}
	t, err := strconv.Atoi(total)
	if err != nil {
		return demo.Tally{}, fmt.Errorf("total %q: %w", total, err)
	}
	return demo.Tally{Count: c, Total: t}, nil
}

// TimeToTics converts an engine time such as "1:23.45" or "1:02:03" to tics.
func TimeToTics(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}

	seconds, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	mult := 60.0
	for i := len(parts) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		seconds += float64(n) * mult
		mult *= 60
	}
	return int(math.Round(seconds * TicRate)), nil
}

// ParseAnalysis parses "key value" lines. Values may contain spaces.
func ParseAnalysis(text string) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		out[key] = strings.TrimSpace(value)
	}
	return out
}
