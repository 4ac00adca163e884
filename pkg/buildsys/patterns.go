package buildsys

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/pattern"
)

// PatternSet matches slash separated paths relative to a root directory. Patterns use shell glob
// syntax with globstar support ("scss/**/*.scss"); patterns prefixed with "!" exclude paths.
// Wildcards in include patterns skip dot files and dot directories unless the pattern names them
// (".github/**/*.yml" or "**/.*").
type PatternSet struct {
	includes []globPattern
	excludes []globPattern
}

type globPattern struct {
	source string
	base   string
	expr   *regexp.Regexp
	// dot segments of the pattern, a path may only contain dot segments matching one of them
	dots []*regexp.Regexp
}

func (g *globPattern) match(rel string) bool {
	if !g.expr.MatchString(rel) {
		return false
	}

	for _, segment := range strings.Split(rel, "/") {
		if !strings.HasPrefix(segment, ".") {
			continue
		}

		named := false
		for _, dot := range g.dots {
			if dot.MatchString(segment) {
				named = true
				break
			}
		}
		if !named {
			return false
		}
	}
	return true
}

// FileMatch is a file resolved from a PatternSet
type FileMatch struct {
	// Path is the file's location on disk
	Path string
	// Rel is the slash separated path relative to the glob base of the matching pattern
	Rel string
}

// NormalizePattern converts a pattern to the slash separated, cleaned form used for matching
func NormalizePattern(p string) string {
	return path.Clean(filepath.ToSlash(p))
}

// CompilePatterns parses the given glob patterns
func CompilePatterns(patterns ...string) (*PatternSet, error) {
	set := &PatternSet{}
	for _, raw := range patterns {
		exclude := strings.HasPrefix(raw, "!")
		if exclude {
			raw = raw[1:]
		}

		if raw == "" {
			return nil, eris.New("empty glob pattern")
		}

		glob, err := compileGlob(NormalizePattern(raw))
		if err != nil {
			return nil, err
		}

		if exclude {
			set.excludes = append(set.excludes, glob)
		} else {
			set.includes = append(set.includes, glob)
		}
	}

	return set, nil
}

func compileGlob(source string) (globPattern, error) {
	expr, err := pattern.Regexp(source, pattern.Filenames)
	if err != nil {
		return globPattern{}, eris.Wrapf(err, "failed to parse pattern %s", source)
	}

	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return globPattern{}, eris.Wrapf(err, "failed to compile pattern %s", source)
	}

	glob := globPattern{
		source: source,
		base:   GlobBase(source),
		expr:   re,
	}

	for _, segment := range strings.Split(source, "/") {
		if !strings.HasPrefix(segment, ".") || segment == "." || segment == ".." {
			continue
		}

		expr, err := pattern.Regexp(segment, pattern.Filenames)
		if err != nil {
			return globPattern{}, eris.Wrapf(err, "failed to parse pattern %s", source)
		}
		dot, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return globPattern{}, eris.Wrapf(err, "failed to compile pattern %s", source)
		}
		glob.dots = append(glob.dots, dot)
	}

	return glob, nil
}

func hasMeta(segment string) bool {
	return strings.ContainsAny(segment, `*?[\`)
}

// IsGlob reports whether p contains glob characters or is an exclude pattern
func IsGlob(p string) bool {
	return strings.HasPrefix(p, "!") || hasMeta(p)
}

// GlobBase returns the leading directories of a pattern that don't contain any glob characters
// ("node_modules/jquery/dist/*" has the base "node_modules/jquery/dist").
func GlobBase(p string) string {
	p = NormalizePattern(p)
	if !hasMeta(p) {
		return path.Dir(p)
	}

	parts := strings.Split(p, "/")
	base := make([]string, 0, len(parts))
	for _, part := range parts {
		if hasMeta(part) {
			break
		}
		base = append(base, part)
	}

	if len(base) == 0 {
		return "."
	}
	return strings.Join(base, "/")
}

// Empty reports whether the set contains no include patterns
func (s *PatternSet) Empty() bool {
	return len(s.includes) == 0
}

// Match reports whether the relative path matches at least one include and no exclude pattern
func (s *PatternSet) Match(rel string) bool {
	rel = NormalizePattern(rel)
	for idx := range s.includes {
		if s.includes[idx].match(rel) {
			return !s.excluded(rel)
		}
	}

	return false
}

func (s *PatternSet) excluded(rel string) bool {
	for _, exc := range s.excludes {
		if exc.expr.MatchString(rel) {
			return true
		}
	}
	return false
}

// Resolve lists all files below root matching the set. Each file is reported once, relative to the base
// of the first include pattern that matched it. Literal directories include everything below them.
func (s *PatternSet) Resolve(root string) ([]FileMatch, error) {
	seen := make(map[string]bool)
	result := make([]FileMatch, 0)

	add := func(p, base string, glob *globPattern) error {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return eris.Wrapf(err, "failed to resolve %s", p)
		}
		rel = filepath.ToSlash(rel)

		if (glob != nil && !glob.match(rel)) || s.excluded(rel) || seen[rel] {
			return nil
		}

		baseRel, err := filepath.Rel(base, p)
		if err != nil {
			return eris.Wrapf(err, "failed to resolve %s", p)
		}

		seen[rel] = true
		result = append(result, FileMatch{Path: p, Rel: filepath.ToSlash(baseRel)})
		return nil
	}

	for idx := range s.includes {
		inc := &s.includes[idx]
		literal := !hasMeta(inc.source)
		start := filepath.Join(root, filepath.FromSlash(inc.base))
		if literal {
			start = filepath.Join(root, filepath.FromSlash(inc.source))
		}

		info, err := os.Stat(start)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, eris.Wrapf(err, "failed to check %s", start)
		}

		base := filepath.Join(root, filepath.FromSlash(inc.base))
		if literal && !info.IsDir() {
			if err := add(start, base, nil); err != nil {
				return nil, err
			}
			continue
		}

		glob := inc
		if literal {
			glob = nil
		}

		err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return add(p, base, glob)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve %s", inc.source)
		}
	}

	return result, nil
}
