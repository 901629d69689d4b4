package repo

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/substratefs/treestore/pkg/checksum"
	"github.com/substratefs/treestore/pkg/delta"
	"github.com/substratefs/treestore/pkg/object"
)

// ApplyDelta applies a static delta to the repository: it decodes the
// superblock, checks preconditions, validates and executes each part against
// the local store, and finally commits the embedded commit object. parts
// holds the wire form of each part in superblock order.
func (r *Repo) ApplyDelta(superblock []byte, parts [][]byte) (string, error) {
	sb, err := delta.UnmarshalSuperblock(superblock)
	if err != nil {
		return "", err
	}
	if len(parts) != len(sb.Parts) {
		return "", fmt.Errorf("apply delta: %w: superblock names %d parts, got %d",
			delta.ErrCorruptDelta, len(sb.Parts), len(parts))
	}
	for _, rp := range sb.Recurse {
		// Prerequisite deltas must have been applied already; their to
		// commits are required objects.
		ok, err := r.HasObject(object.TypeCommit, checksum.FromBytes(rp.To))
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("apply delta: prerequisite delta to %s not applied",
				checksum.FromBytes(rp.To))
		}
	}

	if len(sb.From) != 0 {
		from := checksum.FromBytes(sb.From)
		ok, err := r.HasObject(object.TypeCommit, from)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("apply delta: from commit %s not in repository", from)
		}
	}
	for _, fb := range sb.Fallbacks {
		ok, err := r.HasObject(fb.Type, checksum.FromBytes(fb.Checksum))
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("apply delta: fallback object %s.%s not in repository",
				checksum.FromBytes(fb.Checksum), fb.Type)
		}
	}

	exec := &delta.Executor{Sink: r, Source: r}
	for i := range sb.Parts {
		meta := &sb.Parts[i]
		payload, err := delta.ValidatePart(meta, parts[i])
		if err != nil {
			return "", fmt.Errorf("apply delta part %d: %w", i, err)
		}
		if err := exec.Execute(meta, payload); err != nil {
			return "", fmt.Errorf("apply delta part %d: %w", i, err)
		}
	}

	to := checksum.FromBytes(sb.To)
	if err := r.CommitMetaObject(object.TypeCommit, to, sb.Commit); err != nil {
		return "", fmt.Errorf("apply delta: embedded commit: %w", err)
	}
	return to, nil
}

// GenerateDeltaOptions tunes delta generation.
type GenerateDeltaOptions struct {
	// SimilarityThreshold is the minimum percent score for encoding a new
	// file as a patch against an old one. See delta.BasenameSizeScore.
	SimilarityThreshold int
	// Score overrides the similarity scoring function.
	Score delta.ScoreFunc
	// Compression is the part compression tag, delta.CompressLZMA by
	// default.
	Compression byte
}

// GenerateDelta builds a static delta carrying every object reachable from
// the to commit that is not reachable from the from commit. New files that
// resemble files in the from commit are encoded as patches against them.
// Everything lands in a single part; from may be empty for a delta from
// scratch. It returns the encoded superblock and the part wire bytes.
func (r *Repo) GenerateDelta(from, to string, opts GenerateDeltaOptions) ([]byte, [][]byte, error) {
	if opts.Compression == 0 {
		opts.Compression = delta.CompressLZMA
	}
	score := opts.Score
	if score == nil {
		score = delta.BasenameSizeScore
	}

	toSet, err := r.ReachableSet(to)
	if err != nil {
		return nil, nil, err
	}
	toContents, err := r.CommitContents(to)
	if err != nil {
		return nil, nil, err
	}

	fromSet := make(map[string]object.ObjectType)
	similar := make(map[string]string)
	var fromBytes []byte
	if from != "" {
		if fromSet, err = r.ReachableSet(from); err != nil {
			return nil, nil, err
		}
		fromContents, err := r.CommitContents(from)
		if err != nil {
			return nil, nil, err
		}
		similar = delta.ComputeSimilar(fromContents, toContents, opts.SimilarityThreshold, score)
		if fromBytes, err = checksum.ToBytes(from); err != nil {
			return nil, nil, err
		}
	}

	b := delta.NewPartBuilder()
	added := 0
	for _, csum := range sortedChecksums(toSet) {
		t := toSet[csum]
		if csum == to {
			continue // travels embedded in the superblock
		}
		if _, ok := fromSet[csum]; ok {
			continue
		}
		if t.IsMeta() {
			encoded, err := r.ReadMetaObject(t, csum)
			if err != nil {
				return nil, nil, err
			}
			if _, err := b.AddMetaObject(t, encoded); err != nil {
				return nil, nil, err
			}
			added++
			continue
		}

		meta, content, size, closer, err := r.OpenFileObject(csum)
		if err != nil {
			return nil, nil, err
		}
		var target []byte
		if content != nil {
			target = make([]byte, size)
			_, err = io.ReadFull(content, target)
		}
		closer.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("generate delta: read %s: %w", csum, err)
		}

		if base, ok := similar[csum]; ok {
			baseContent, err := r.ReadFileContent(base)
			if err != nil {
				return nil, nil, err
			}
			if _, err := b.AddFilePatch(meta, base, baseContent, target); err != nil {
				return nil, nil, err
			}
			added++
			continue
		}
		if _, err := b.AddFileObject(meta, target); err != nil {
			return nil, nil, err
		}
		added++
	}

	// A delta whose objects all exist on the from side carries no parts;
	// the commit itself travels in the superblock.
	var partMetas []delta.PartMeta
	var partWires [][]byte
	if added > 0 {
		wire, partMeta, err := b.Finish(opts.Compression)
		if err != nil {
			return nil, nil, err
		}
		partMetas = []delta.PartMeta{*partMeta}
		partWires = [][]byte{wire}
	}

	embedded, err := r.ReadMetaObject(object.TypeCommit, to)
	if err != nil {
		return nil, nil, err
	}
	toBytes, err := checksum.ToBytes(to)
	if err != nil {
		return nil, nil, err
	}
	sb := &delta.Superblock{
		Timestamp: uint64(time.Now().Unix()),
		From:      fromBytes,
		To:        toBytes,
		Commit:    embedded,
		Parts:     partMetas,
	}
	return delta.MarshalSuperblock(sb), partWires, nil
}

func sortedChecksums(set map[string]object.ObjectType) []string {
	out := make([]string, 0, len(set))
	for csum := range set {
		out = append(out, csum)
	}
	sort.Strings(out)
	return out
}
