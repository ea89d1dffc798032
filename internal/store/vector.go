package store

import (
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// trainSeed keeps index training deterministic for a given input set.
const trainSeed = 42

// ivfList is one coarse cluster's posting list: stable ids plus PQ codes.
type ivfList struct {
	IDs   []int64
	Codes [][]byte
}

// VectorIndex is the adaptive vector store. Below the training threshold (or
// when forced) it scans raw vectors exactly; with enough data it trains an
// inverted-file product-quantization structure and searches nprobe clusters.
//
// All distances returned are squared L2.
type VectorIndex struct {
	mu     sync.RWMutex
	cfg    VectorConfig
	path   string
	logger *slog.Logger

	trained bool
	mode    VectorMode

	// flat storage
	flatIDs  []int64
	flatVecs [][]float32

	// quantized storage
	coarse [][]float32
	pq     *productQuantizer
	lists  []ivfList
}

// NewVectorIndex creates the index, loading any persisted state at path.
// A missing or unreadable file yields an empty untrained index, never an
// error: the builder can always repopulate it.
func NewVectorIndex(cfg VectorConfig, path string, logger *slog.Logger) *VectorIndex {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinTrainSize <= 0 {
		cfg.MinTrainSize = 256
	}
	if cfg.NlistMax <= 0 {
		cfg.NlistMax = 4096
	}
	if cfg.Nprobe <= 0 {
		cfg.Nprobe = 16
	}
	if cfg.Subquantizers <= 0 {
		cfg.Subquantizers = 16
	}

	idx := &VectorIndex{cfg: cfg, path: path, logger: logger}
	if path != "" {
		if err := idx.load(); err != nil {
			logger.Warn("vector index unreadable, starting empty",
				slog.String("path", path), slog.String("error", err.Error()))
			idx.reset()
		}
	}
	return idx
}

func (v *VectorIndex) reset() {
	v.trained = false
	v.mode = ""
	v.flatIDs = nil
	v.flatVecs = nil
	v.coarse = nil
	v.pq = nil
	v.lists = nil
}

// IsTrained reports whether the index accepts adds without training.
func (v *VectorIndex) IsTrained() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.trained
}

// Mode reports the current storage mode; empty until trained.
func (v *VectorIndex) Mode() VectorMode {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mode
}

// Count returns the number of stored vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.countLocked()
}

func (v *VectorIndex) countLocked() int {
	if v.mode == VectorModeQuantized {
		n := 0
		for i := range v.lists {
			n += len(v.lists[i].IDs)
		}
		return n
	}
	return len(v.flatIDs)
}

// adaptiveNlist follows 2*sqrt(n) clamped to [16, NlistMax], never exceeding
// the sample count.
func (v *VectorIndex) adaptiveNlist(n int) int {
	nlist := int(2 * math.Sqrt(float64(n)))
	if nlist < 16 {
		nlist = 16
	}
	if nlist > v.cfg.NlistMax {
		nlist = v.cfg.NlistMax
	}
	if nlist > n {
		nlist = n
	}
	return nlist
}

// Train fits the index on a sample. Idempotent: a trained index ignores
// further calls. Small samples, ForceFlat, and any quantizer failure all
// land in flat mode; training never fails the caller.
func (v *VectorIndex) Train(vectors [][]float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.trained {
		v.logger.Debug("vector index already trained, ignoring train call")
		return nil
	}
	for _, vec := range vectors {
		if len(vec) != v.cfg.Dimensions {
			return &DimensionMismatchError{Expected: v.cfg.Dimensions, Got: len(vec)}
		}
	}

	n := len(vectors)
	if v.cfg.ForceFlat || n < v.cfg.MinTrainSize {
		v.becomeFlatLocked()
		v.logger.Info("vector index trained flat",
			slog.Int("samples", n), slog.Bool("forced", v.cfg.ForceFlat))
		return nil
	}

	if err := v.trainQuantizedLocked(vectors); err != nil {
		v.logger.Warn("quantizer training failed, falling back to flat",
			slog.String("error", err.Error()))
		v.becomeFlatLocked()
	}
	return nil
}

func (v *VectorIndex) becomeFlatLocked() {
	v.trained = true
	v.mode = VectorModeFlat
}

func (v *VectorIndex) trainQuantizedLocked(vectors [][]float32) error {
	if v.cfg.Dimensions%v.cfg.Subquantizers != 0 {
		return fmt.Errorf("%d subquantizers do not divide dimension %d",
			v.cfg.Subquantizers, v.cfg.Dimensions)
	}

	rng := rand.New(rand.NewSource(trainSeed))
	nlist := v.adaptiveNlist(len(vectors))

	coarse, err := kmeans(vectors, nlist, rng)
	if err != nil {
		return fmt.Errorf("coarse quantizer: %w", err)
	}

	residuals := make([][]float32, len(vectors))
	for i, vec := range vectors {
		c, _ := nearestCentroid(vec, coarse)
		r := make([]float32, len(vec))
		for j := range vec {
			r[j] = vec[j] - coarse[c][j]
		}
		residuals[i] = r
	}

	pq, err := trainPQ(residuals, v.cfg.Subquantizers, rng)
	if err != nil {
		return err
	}

	v.coarse = coarse
	v.pq = pq
	v.lists = make([]ivfList, nlist)
	v.trained = true
	v.mode = VectorModeQuantized
	v.logger.Info("vector index trained quantized",
		slog.Int("samples", len(vectors)),
		slog.Int("nlist", nlist),
		slog.Int("subquantizers", v.cfg.Subquantizers))
	return nil
}

// Add stores vectors under their stable ids. An untrained index trains
// itself on the incoming batch first. Negative ids collide with the
// not-found sentinel and are skipped with a warning.
func (v *VectorIndex) Add(ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids/vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, vec := range vectors {
		if len(vec) != v.cfg.Dimensions {
			return &DimensionMismatchError{Expected: v.cfg.Dimensions, Got: len(vec)}
		}
	}

	if !v.trained {
		if v.cfg.ForceFlat || len(vectors) < v.cfg.MinTrainSize {
			v.becomeFlatLocked()
		} else if err := v.trainQuantizedLocked(vectors); err != nil {
			v.logger.Warn("auto-train failed, falling back to flat",
				slog.String("error", err.Error()))
			v.becomeFlatLocked()
		}
	}

	for i, id := range ids {
		if id < 0 {
			v.logger.Warn("skipping vector with reserved id", slog.Int64("id", id))
			continue
		}
		if v.mode == VectorModeQuantized {
			c, _ := nearestCentroid(vectors[i], v.coarse)
			r := make([]float32, len(vectors[i]))
			for j := range vectors[i] {
				r[j] = vectors[i][j] - v.coarse[c][j]
			}
			v.lists[c].IDs = append(v.lists[c].IDs, id)
			v.lists[c].Codes = append(v.lists[c].Codes, v.pq.encode(r))
		} else {
			v.flatIDs = append(v.flatIDs, id)
			v.flatVecs = append(v.flatVecs, append([]float32(nil), vectors[i]...))
		}
	}
	return nil
}

// Search returns up to k nearest neighbors by squared L2 distance, closest
// first. An empty or untrained index returns no results and no error.
func (v *VectorIndex) Search(q []float32, k int) ([]Neighbor, error) {
	if len(q) != v.cfg.Dimensions {
		return nil, &DimensionMismatchError{Expected: v.cfg.Dimensions, Got: len(q)}
	}
	if k <= 0 {
		return nil, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.trained || v.countLocked() == 0 {
		return nil, nil
	}

	var out []Neighbor
	if v.mode == VectorModeQuantized {
		out = v.searchQuantizedLocked(q, k)
	} else {
		out = v.searchFlatLocked(q, k)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (v *VectorIndex) searchFlatLocked(q []float32, k int) []Neighbor {
	out := make([]Neighbor, 0, len(v.flatIDs))
	for i, vec := range v.flatVecs {
		out = append(out, Neighbor{ID: v.flatIDs[i], Distance: l2sq(q, vec)})
	}
	return out
}

func (v *VectorIndex) searchQuantizedLocked(q []float32, k int) []Neighbor {
	type probe struct {
		list int
		dist float32
	}
	probes := make([]probe, len(v.coarse))
	for i, c := range v.coarse {
		probes[i] = probe{list: i, dist: l2sq(q, c)}
	}
	sort.Slice(probes, func(i, j int) bool { return probes[i].dist < probes[j].dist })

	nprobe := v.cfg.Nprobe
	if nprobe > len(probes) {
		nprobe = len(probes)
	}

	var out []Neighbor
	residual := make([]float32, len(q))
	for _, p := range probes[:nprobe] {
		list := &v.lists[p.list]
		if len(list.IDs) == 0 {
			continue
		}
		for j := range q {
			residual[j] = q[j] - v.coarse[p.list][j]
		}
		table := v.pq.distanceTable(residual)
		for i, code := range list.Codes {
			out = append(out, Neighbor{ID: list.IDs[i], Distance: codeDistance(table, code)})
		}
	}
	return out
}

// vectorSnapshot is the gob-persisted form of the index.
type vectorSnapshot struct {
	Dimensions int
	Trained    bool
	Mode       VectorMode
	FlatIDs    []int64
	FlatVecs   [][]float32
	Coarse     [][]float32
	PQM        int
	PQDsub     int
	Codebooks  [][][]float32
	Lists      []ivfList
}

// Save persists the index atomically: temp file in the same directory, then
// rename over the target.
func (v *VectorIndex) Save() error {
	if v.path == "" {
		return nil
	}

	v.mu.RLock()
	snap := vectorSnapshot{
		Dimensions: v.cfg.Dimensions,
		Trained:    v.trained,
		Mode:       v.mode,
		FlatIDs:    v.flatIDs,
		FlatVecs:   v.flatVecs,
		Coarse:     v.coarse,
		Lists:      v.lists,
	}
	if v.pq != nil {
		snap.PQM = v.pq.M
		snap.PQDsub = v.pq.Dsub
		snap.Codebooks = v.pq.Codebooks
	}
	v.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(v.path), ".vectors-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode vector index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index file: %w", err)
	}
	if err := os.Rename(tmpPath, v.path); err != nil {
		return fmt.Errorf("replace vector index: %w", err)
	}
	return nil
}

func (v *VectorIndex) load() error {
	f, err := os.Open(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var snap vectorSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode vector index: %w", err)
	}
	if snap.Dimensions != v.cfg.Dimensions {
		return &DimensionMismatchError{Expected: v.cfg.Dimensions, Got: snap.Dimensions}
	}

	v.trained = snap.Trained
	v.mode = snap.Mode
	v.flatIDs = snap.FlatIDs
	v.flatVecs = snap.FlatVecs
	v.coarse = snap.Coarse
	v.lists = snap.Lists
	if snap.PQM > 0 {
		v.pq = &productQuantizer{M: snap.PQM, Dsub: snap.PQDsub, Codebooks: snap.Codebooks}
	}
	return nil
}
