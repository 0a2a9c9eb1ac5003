package training

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"ktrdr/internal/config"
	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

// Artifact file names inside models/<strategy>/<version>/.
const (
	weightsFile  = "weights.bin"
	configFile   = "config.yaml"
	metadataFile = "metadata.json"
)

// weightsBlob is the gob-encoded weights.bin payload.
type weightsBlob struct {
	Sizes      []int
	Activation string
	Dropout    float64
	Weights    [][]float64 // row-major per layer
	Biases     [][]float64
}

func (m *MLP) blob() weightsBlob {
	blob := weightsBlob{Sizes: m.sizes, Activation: m.activation, Dropout: m.dropout}
	for _, l := range m.layers {
		blob.Weights = append(blob.Weights, append([]float64(nil), l.w.RawMatrix().Data...))
		blob.Biases = append(blob.Biases, append([]float64(nil), l.b...))
	}
	return blob
}

// modelFromBlob rebuilds the network from a decoded weights payload.
func modelFromBlob(blob weightsBlob) (*MLP, error) {
	if len(blob.Sizes) < 2 || len(blob.Weights) != len(blob.Sizes)-1 {
		return nil, kerr.New(kerr.KindModel, "weights payload is malformed")
	}
	m := &MLP{sizes: blob.Sizes, activation: blob.Activation, dropout: blob.Dropout}
	for l := 0; l < len(blob.Sizes)-1; l++ {
		in, out := blob.Sizes[l], blob.Sizes[l+1]
		if len(blob.Weights[l]) != in*out || len(blob.Biases[l]) != out {
			return nil, kerr.Newf(kerr.KindModel, "layer %d weight shape mismatch", l)
		}
		m.layers = append(m.layers, mlpLayer{
			w: mat.NewDense(in, out, append([]float64(nil), blob.Weights[l]...)),
			b: append([]float64(nil), blob.Biases[l]...),
		})
	}
	return m, nil
}

// saveArtifact writes models/<strategy>/<version>/ atomically: all
// files land in a temp directory first, which is renamed into place.
// The version is the next free v<n> under the strategy directory.
func saveArtifact(modelDir string, strategy *config.Strategy, model *MLP, meta domain.ModelMetadata) (string, error) {
	strategyDir := filepath.Join(modelDir, strategy.Name)
	if err := os.MkdirAll(strategyDir, 0o755); err != nil {
		return "", kerr.Wrap(kerr.KindPersistence, "create strategy dir", err)
	}
	version, err := nextVersion(strategyDir)
	if err != nil {
		return "", err
	}
	meta.Version = version

	weights, err := encodeWeights(model)
	if err != nil {
		return "", err
	}
	meta.Hash = artifactHash(weights, meta)

	snapshot, err := strategy.Snapshot()
	if err != nil {
		return "", kerr.Wrap(kerr.KindPersistence, "snapshot strategy", err)
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", kerr.Wrap(kerr.KindPersistence, "encode metadata", err)
	}

	tmp := filepath.Join(strategyDir, ".tmp-"+uuid.NewString())
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return "", kerr.Wrap(kerr.KindPersistence, "create temp artifact dir", err)
	}
	defer os.RemoveAll(tmp)

	files := map[string][]byte{
		weightsFile:  weights,
		configFile:   snapshot,
		metadataFile: metaJSON,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(tmp, name), data, 0o644); err != nil {
			return "", kerr.Wrap(kerr.KindPersistence, "write "+name, err)
		}
	}

	final := filepath.Join(strategyDir, version)
	if err := os.Rename(tmp, final); err != nil {
		return "", kerr.Wrap(kerr.KindPersistence, "publish artifact", err)
	}
	return final, nil
}

// LoadArtifact reads a model directory back, validating the content
// hash against metadata.json.
func LoadArtifact(dir string) (*MLP, domain.ModelMetadata, error) {
	metaRaw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, domain.ModelMetadata{}, kerr.Wrap(kerr.KindModel, "read metadata", err).With("dir", dir)
	}
	var meta domain.ModelMetadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, domain.ModelMetadata{}, kerr.Wrap(kerr.KindModel, "decode metadata", err)
	}

	weights, err := os.ReadFile(filepath.Join(dir, weightsFile))
	if err != nil {
		return nil, domain.ModelMetadata{}, kerr.Wrap(kerr.KindModel, "read weights", err).With("dir", dir)
	}
	if got := artifactHash(weights, meta); got != meta.Hash {
		return nil, domain.ModelMetadata{}, kerr.Newf(kerr.KindModel, "artifact hash mismatch: metadata %s, computed %s",
			meta.Hash, got).With("dir", dir)
	}

	var blob weightsBlob
	if err := gob.NewDecoder(bytes.NewReader(weights)).Decode(&blob); err != nil {
		return nil, domain.ModelMetadata{}, kerr.Wrap(kerr.KindModel, "decode weights", err)
	}
	model, err := modelFromBlob(blob)
	if err != nil {
		return nil, domain.ModelMetadata{}, err
	}
	return model, meta, nil
}

func encodeWeights(model *MLP) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(model.blob()); err != nil {
		return nil, kerr.Wrap(kerr.KindPersistence, "encode weights", err)
	}
	return buf.Bytes(), nil
}

// artifactHash digests the weight bytes plus a canonical metadata form
// with the hash field itself blanked.
func artifactHash(weights []byte, meta domain.ModelMetadata) string {
	meta.Hash = ""
	canonical, _ := json.Marshal(meta)
	h := sha256.New()
	h.Write(weights)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// nextVersion scans for existing v<n> directories and returns the next
// free one, starting at v1.
func nextVersion(strategyDir string) (string, error) {
	entries, err := os.ReadDir(strategyDir)
	if err != nil {
		return "", kerr.Wrap(kerr.KindPersistence, "list versions", err)
	}
	max := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "v") {
			continue
		}
		if n, err := strconv.Atoi(e.Name()[1:]); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("v%d", max+1), nil
}
