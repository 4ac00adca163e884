package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"github.com/ngld/sitebuild/pkg/buildsys"
)

const (
	mediaCSS = "text/css"
	mediaJS  = "application/javascript"
)

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc(mediaCSS, css.Minify)
	m.AddFunc(mediaJS, js.Minify)
	return m
}

// AssetOptions configures the styles and scripts leaves
type AssetOptions struct {
	// Root is the project root all patterns and paths are relative to
	Root string
	// Src lists the source patterns; "!" excludes
	Src []string
	// Dest is the output directory
	Dest string
	// Banner is prepended to every output file
	Banner string
	// Notify is called after each written file, i.e. to reload browsers
	Notify func(path string)
}

func (o AssetOptions) resolve(skip func(rel string) bool) ([]buildsys.FileMatch, error) {
	set, err := buildsys.CompilePatterns(o.Src...)
	if err != nil {
		return nil, err
	}

	files, err := set.Resolve(o.Root)
	if err != nil {
		return nil, err
	}

	result := files[:0]
	for _, f := range files {
		if skip == nil || !skip(f.Rel) {
			result = append(result, f)
		}
	}
	return result, nil
}

// output computes the destination of a source file with its extension replaced by ext, keeping the
// directory structure below the glob base
func (o AssetOptions) output(f buildsys.FileMatch, ext string) string {
	rel := filepath.FromSlash(f.Rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ext
	return filepath.Join(o.Dest, rel)
}

func (o AssetOptions) write(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	if o.Banner != "" {
		content = append([]byte(o.Banner), content...)
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return eris.Wrapf(err, "failed to write %s", path)
	}

	if o.Notify != nil {
		o.Notify(path)
	}
	return nil
}
