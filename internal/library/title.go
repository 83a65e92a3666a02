package library

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var containerExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".flv": true,
	".m4v": true, ".ts": true, ".m2ts": true, ".webm": true, ".mpg": true, ".mpeg": true,
	".rmvb": true, ".iso": true, ".torrent": true, ".magnet": true,
}

var (
	bracketNoise = []*regexp.Regexp{
		regexp.MustCompile(`\{[^}]*\}`),
		regexp.MustCompile(`[(\[]\s*(?:19|20)\d{2}\s*[)\]]`),
	}

	// Punctuated noise is removed before separators are replaced, since
	// splitting would turn it into ordinary looking tokens.
	punctuatedNoise = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:web-dl|blu-ray|dts-hd(?:[. ]ma)?|dts-x|hdr10\+|dd\+|ddp?\d\.\d|h\.26[456]|x\.26[45])`),
		regexp.MustCompile(`(?i)\b(?:aac|ac3|eac3|dts|truehd|atmos|flac|opus)?\d\.\d\b`),
	}

	noiseTokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{3,4}[pi]$`),
		regexp.MustCompile(`^(?:4k|8k|uhd|fhd)$`),
		regexp.MustCompile(`^(?:bluray|bdrip|brrip|bdremux|dvdrip|dvdscr|dvd|webrip|webdl|web|hdtv|pdtv|hdrip|hdtc|hdts|remux)$`),
		regexp.MustCompile(`^(?:x26[456]|h26[456]|hevc|avc|av1|xvid|divx|vp9|mpeg2)$`),
		regexp.MustCompile(`^(?:aac|ac3|eac3|dts|ddp|truehd|atmos|flac|mp3|opus|lpcm|dd)$`),
		regexp.MustCompile(`^(?:hdr|hdr10|hdr10plus|sdr|dv|dovi|hlg|dolby|vision)$`),
		regexp.MustCompile(`^(?:remux|repack|proper|internal|complete|glimmer|mkiedb)$`),
		regexp.MustCompile(`^(?:8bit|10bit|12bit)$`),
	}

	trailingGroup  = regexp.MustCompile(`-[\p{L}\p{N}_]+\s*$`)
	separatorChars = regexp.MustCompile(`[\s._\-\[\](){}+,~【】「」]+`)
	yearToken      = regexp.MustCompile(`^(?:19|20)\d{2}$`)
)

// maxNormalizePasses bounds the fixed point search in Normalize. Every pass
// keeps or shrinks the token list, so a few passes always settle.
const maxNormalizePasses = 8

// Normalize derives the comparison key of a raw file, folder or torrent name.
// The result is lower case, separator free and stripped of release noise. It
// is never shown to users. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := normalizePass(raw)
	for range maxNormalizePasses {
		next := normalizePass(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// normalizePass strips one layer of noise. A name made only of noise falls
// back to its separator-collapsed form, which a second pass may strip further.
func normalizePass(raw string) string {
	s := foldText(raw)
	s = stripContainerExt(s)
	base := s

	for _, re := range bracketNoise {
		s = re.ReplaceAllString(s, " ")
	}
	noisy := false
	for _, re := range punctuatedNoise {
		if re.MatchString(s) {
			noisy = true
			s = re.ReplaceAllString(s, " ")
		}
	}
	if !noisy {
		for _, tok := range strings.Fields(separatorChars.ReplaceAllString(s, " ")) {
			if isNoiseToken(tok) {
				noisy = true
				break
			}
		}
	}
	if noisy {
		s = trailingGroup.ReplaceAllString(s, " ")
	}

	tokens := strings.Fields(separatorChars.ReplaceAllString(s, " "))
	kept := tokens[:0]
	for _, tok := range tokens {
		if !isNoiseToken(tok) {
			kept = append(kept, tok)
		}
	}

	out := kept[:0]
	for i, tok := range kept {
		// A leading year is a title ("1917", "2012"), later ones are tags
		if i > 0 && yearToken.MatchString(tok) {
			continue
		}
		out = append(out, tok)
	}

	if len(out) == 0 {
		return strings.Join(strings.Fields(separatorChars.ReplaceAllString(base, " ")), " ")
	}
	return strings.Join(out, " ")
}

func isNoiseToken(tok string) bool {
	for _, re := range noiseTokenPatterns {
		if re.MatchString(tok) {
			return true
		}
	}
	return false
}

func foldText(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	// Casers keep state, so one is built per call
	s = cases.Fold().String(s)
	return norm.NFKC.String(s)
}

func stripContainerExt(s string) string {
	if i := strings.LastIndexByte(s, '.'); i > 0 {
		if containerExtensions[strings.ToLower(s[i:])] {
			return s[:i]
		}
	}
	return s
}

var (
	extractNoise = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:1080p|720p|480p|4K|2160p|UHD)\b`),
		regexp.MustCompile(`(?i)\b(?:BluRay|BDRip|DVDRip|WEBRip|HDTV|WEB-DL|HDRip)\b`),
		regexp.MustCompile(`(?i)\b(?:x264|x265|H264|H265|HEVC|AVC)\b`),
		regexp.MustCompile(`(?i)\b(?:AC3|DTS|AAC|FLAC|MP3|Atmos)\b`),
		regexp.MustCompile(`(?i)\b(?:REMUX|REPACK|PROPER|INTERNAL)\b`),
		regexp.MustCompile(`(?i)\b(?:HDR|SDR|Dolby|Vision)\b`),
		regexp.MustCompile(`(?i)\b(?:COMPLETE|GLiMMER|MKiEDb)\b`),
		regexp.MustCompile(`\{.*?\}`),
		regexp.MustCompile(`(?i)-[A-Z0-9_]+$`),
		regexp.MustCompile(`(?i)__[A-Z0-9_]+$`),
	}

	cjkRun        = regexp.MustCompile(`\p{Han}+`)
	cjkSeason     = regexp.MustCompile(`第[一二三四五六七八九十\d]+季`)
	leadingTag    = regexp.MustCompile(`^\[([^\]]+)\]`)
	trackerTag    = regexp.MustCompile(`^\[[^\]]+\]\.?`)
	seasonMarker  = regexp.MustCompile(`(?i)[.\s]S\d+`)
	yearMarker    = regexp.MustCompile(`[.\s]\d{4}`)
	bareYear      = regexp.MustCompile(`\b\d{4}\b`)
	loosePunct    = regexp.MustCompile(`[._-]+`)
	spaceRun      = regexp.MustCompile(`\s+`)
	bracketAnyway = regexp.MustCompile(`\[.*\]`)
)

type titleRule func(name string) (string, bool)

// ExtractTitle returns the human readable title of a release name, used as
// the query for metadata lookups. Rules are tried in order and the first one
// producing a title wins.
func ExtractTitle(filename string) string {
	name := stripContainerExt(filename)
	original := name

	for _, re := range extractNoise {
		name = re.ReplaceAllString(name, "")
	}
	name = strings.TrimSpace(spaceRun.ReplaceAllString(name, " "))

	for _, rule := range []titleRule{underscoreTitle, bracketTitle, cjkTitle, markerTitle} {
		if title, ok := rule(name); ok {
			return title
		}
	}

	name = bareYear.ReplaceAllString(name, "")
	name = loosePunct.ReplaceAllString(name, " ")
	name = strings.TrimSpace(spaceRun.ReplaceAllString(name, " "))
	if utf8.RuneCountInString(name) < 2 {
		return original
	}
	return name
}

// TorrentTitle is ExtractTitle for torrent names, which often lead with a
// tracker tag such as "[SiteName]".
func TorrentTitle(filename string) string {
	return ExtractTitle(StripTrackerTag(stripContainerExt(filename)))
}

// StripTrackerTag drops a leading bracketed tag and the dot following it.
func StripTrackerTag(name string) string {
	loc := trackerTag.FindStringIndex(name)
	if loc == nil {
		return name
	}
	rest := strings.TrimSpace(name[loc[1]:])
	if utf8.RuneCountInString(rest) < 2 {
		return name
	}
	return rest
}

func underscoreTitle(name string) (string, bool) {
	i := strings.IndexByte(name, '_')
	if i < 0 || bracketAnyway.MatchString(name) {
		return "", false
	}
	before := strings.TrimSpace(name[:i])
	if utf8.RuneCountInString(before) < 2 {
		return "", false
	}
	return strings.TrimSpace(strings.ReplaceAll(before, ".", " ")), true
}

func bracketTitle(name string) (string, bool) {
	m := leadingTag.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	content := strings.TrimSpace(m[1])
	if hasHan(content) {
		if cjkSeason.MatchString(content) {
			if before := strings.TrimSpace(strings.SplitN(content, "第", 2)[0]); before != "" {
				return before, true
			}
		}
		if strings.ContainsAny(content, " .") {
			first := strings.TrimSpace(strings.FieldsFunc(content, func(r rune) bool { return r == ' ' || r == '.' })[0])
			if hasHan(first) {
				return first, true
			}
		}
	}
	return content, true
}

func cjkTitle(name string) (string, bool) {
	dot := strings.IndexByte(name, '.')
	if dot <= 0 {
		return "", false
	}
	runs := cjkRun.FindAllString(name[:dot], -1)
	if len(runs) == 0 {
		return "", false
	}
	text := strings.Join(runs, "")
	if before, _, found := strings.Cut(text, "之"); found && before != "" {
		return before, true
	}
	if cjkSeason.MatchString(text) {
		if before := strings.SplitN(text, "第", 2)[0]; before != "" {
			return before, true
		}
	}
	return text, true
}

// markerTitle cuts the name at whichever of the season or year marker comes first.
func markerTitle(name string) (string, bool) {
	season := seasonMarker.FindStringIndex(name)
	year := yearMarker.FindStringIndex(name)
	cut := -1
	switch {
	case season != nil && year != nil:
		cut = min(season[0], year[0])
	case season != nil:
		cut = season[0]
	case year != nil:
		cut = year[0]
	default:
		return "", false
	}
	title := strings.TrimSpace(strings.ReplaceAll(name[:cut], ".", " "))
	return title, title != ""
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
