package ingest

import "strings"

// ChunkOptions sizes the recursive splitter. Sizes are counted in runes,
// not bytes, to stay well-behaved on multi-byte text.
type ChunkOptions struct {
	MaxChunkSize int
	Overlap      int
	// Separators is tried in order; text is split on the first separator
	// present, and each resulting piece recurses through the remaining
	// separators if it is still too large.
	Separators []string
}

// DefaultChunkOptions mirrors the ingestion defaults: paragraph breaks
// first, then lines, then words, then hard character splits.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		MaxChunkSize: 1000,
		Overlap:      200,
		Separators:   []string{"\n\n", "\n", " ", ""},
	}
}

// MarkdownChunkOptions additionally prefers splitting on heading
// boundaries before falling back to the generic ladder.
func MarkdownChunkOptions() ChunkOptions {
	return ChunkOptions{
		MaxChunkSize: 1000,
		Overlap:      150,
		Separators:   []string{"\n## ", "\n# ", "\n\n", "\n", " ", ""},
	}
}

// CodeChunkOptions prefers splitting on blank-line-delimited blocks and
// falls back to line-based splitting rather than word splitting, since
// splitting code mid-token is rarely useful.
func CodeChunkOptions() ChunkOptions {
	return ChunkOptions{
		MaxChunkSize: 1200,
		Overlap:      100,
		Separators:   []string{"\n\n", "\n", ""},
	}
}

// Chunk splits text into overlapping pieces no larger than
// opts.MaxChunkSize runes, trying each separator in order (the recursive
// splitter pattern) and falling back to a hard cut when no separator
// keeps pieces under size.
func Chunk(text string, opts ChunkOptions) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	pieces := split(text, opts.Separators)
	merged := mergeWithOverlap(pieces, opts.MaxChunkSize, opts.Overlap)

	out := make([]string, 0, len(merged))
	for _, p := range merged {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// split recursively breaks text on the first applicable separator,
// falling through the ladder when a resulting segment is still too large
// relative to the caller (the caller re-merges afterward, so split's only
// job is to produce separator-respecting atomic units).
func split(text string, separators []string) []string {
	if len(separators) == 0 {
		return []string{text}
	}
	sep := separators[0]
	rest := separators[1:]

	if sep == "" {
		return splitRunes(text)
	}

	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return split(text, rest)
	}

	var out []string
	for i, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
		if i < len(parts)-1 {
			out[len(out)-1] += sep
		}
	}
	return out
}

func splitRunes(text string) []string {
	runes := []rune(text)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

// mergeWithOverlap greedily packs atomic units produced by split back
// together up to maxSize, carrying the trailing overlap runes of each
// chunk forward into the next so embeddings retain local context across
// chunk boundaries.
func mergeWithOverlap(units []string, maxSize, overlap int) []string {
	if maxSize <= 0 {
		return units
	}

	var chunks []string
	var current strings.Builder

	flush := func() string {
		s := current.String()
		current.Reset()
		return s
	}

	for _, u := range units {
		if current.Len() == 0 {
			if len([]rune(u)) > maxSize {
				chunks = append(chunks, hardSplit(u, maxSize)...)
				continue
			}
			current.WriteString(u)
			continue
		}

		if len([]rune(current.String()))+len([]rune(u)) <= maxSize {
			current.WriteString(u)
			continue
		}

		chunks = append(chunks, flush())
		tail := overlapTail(chunks[len(chunks)-1], overlap)
		current.WriteString(tail)
		if len([]rune(current.String()))+len([]rune(u)) <= maxSize {
			current.WriteString(u)
		} else if len([]rune(u)) > maxSize {
			chunks = append(chunks, flush())
			chunks = append(chunks, hardSplit(u, maxSize)...)
		} else {
			chunks = append(chunks, flush())
			current.WriteString(u)
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, flush())
	}
	return chunks
}

func overlapTail(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || n >= len(runes) {
		return ""
	}
	return string(runes[len(runes)-n:])
}

func hardSplit(s string, maxSize int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		end := maxSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[:end]))
		runes = runes[end:]
	}
	return out
}
