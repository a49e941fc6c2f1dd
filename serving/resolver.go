package serving

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"examscore/ml"
)

// Candidates lists artifact file names, relative to the artifact directory,
// in priority order for each slot.
type Candidates struct {
	Model        []string
	Preprocessor []string
}

func DefaultCandidates() Candidates {
	return Candidates{
		Model:        []string{ml.PipelineFile, ml.ModelFile},
		Preprocessor: []string{ml.PreprocessorFile, ml.LegacyPreprocessorFile},
	}
}

// Artifact is a loaded and classified artifact file.
type Artifact struct {
	Path   string
	Kind   ml.ArtifactKind
	Meta   ml.ArtifactMeta
	Object any
}

type Resolution struct {
	Pipeline     *Artifact
	Model        *Artifact
	Preprocessor *Artifact
	Diagnostics  []string
}

// Resolve loads the candidates under dir. It never fails: every missing,
// unreadable or unusable candidate becomes a diagnostic. A pipeline found in
// the model slot wins over any model and preprocessor pair.
func Resolve(dir string, cands Candidates) Resolution {
	var res Resolution

	for _, name := range cands.Model {
		art, ok := res.load(dir, name)
		if !ok {
			continue
		}
		switch art.Kind {
		case ml.KindPipeline:
			res.Pipeline = art
		case ml.KindModel:
			if res.Model == nil {
				res.Model = art
			}
		default:
			res.diag("%s: %s artifact cannot serve predictions", art.Path, art.Kind)
		}
		if res.Pipeline != nil {
			break
		}
	}

	if res.Pipeline != nil {
		res.Model = nil
		return res
	}

	for _, name := range cands.Preprocessor {
		art, ok := res.load(dir, name)
		if !ok {
			continue
		}
		if art.Kind != ml.KindPreprocessor {
			res.diag("%s: expected a preprocessor, found %s", art.Path, art.Kind)
			continue
		}
		res.Preprocessor = art
		if name == ml.LegacyPreprocessorFile {
			res.diag("%s: legacy artifact name, run the training job to migrate it to %s", art.Path, ml.PreprocessorFile)
		}
		break
	}
	return res
}

func (r *Resolution) load(dir, name string) (*Artifact, bool) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, name)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.diag("%s: not found", path)
		} else {
			r.diag("%s: %v", path, err)
		}
		return nil, false
	}

	obj, meta, err := ml.LoadArtifact(path)
	if err != nil {
		r.diag("%v", err)
		return nil, false
	}
	kind := ml.Classify(obj)
	if kind == ml.KindUnusable {
		r.diag("%s: no usable predict or transform capability", path)
		return nil, false
	}
	return &Artifact{Path: path, Kind: kind, Meta: meta, Object: obj}, true
}

func (r *Resolution) diag(format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, fmt.Sprintf(format, args...))
}
