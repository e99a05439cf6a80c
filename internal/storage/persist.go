package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
)

const (
	IndexFileName    = "vector_index.bin"
	MetadataFileName = "vector_metadata.json"

	indexMagic    = "NKVI"
	formatVersion = 1
	headerSize    = 16 // magic + version + dimension + count
)

var errNoIndexFiles = errors.New("no index files")

// metadataFile is the JSON half of the persisted pair. IndexChecksum binds it
// to the exact binary file written alongside it.
type metadataFile struct {
	Version       int        `json:"version"`
	Model         string     `json:"model"`
	Dimension     int        `json:"dimension"`
	Count         int        `json:"count"`
	IndexChecksum uint32     `json:"index_checksum"`
	Documents     []string   `json:"documents"`
	Metadata      []Metadata `json:"metadata"`
}

type loadedIndex struct {
	dimension int
	model     string
	state     *indexState
}

func encodeVectors(dimension int, vectors [][]float32) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(vectors)*dimension*4))
	buf.WriteString(indexMagic)

	var word [4]byte
	for _, v := range []uint32{formatVersion, uint32(dimension), uint32(len(vectors))} {
		binary.LittleEndian.PutUint32(word[:], v)
		buf.Write(word[:])
	}
	for _, vec := range vectors {
		for _, f := range vec {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(f))
			buf.Write(word[:])
		}
	}
	return buf.Bytes()
}

func decodeVectors(data []byte) (int, [][]float32, error) {
	if len(data) < headerSize || string(data[:4]) != indexMagic {
		return 0, nil, fmt.Errorf("%w: bad header", ErrCorruptIndex)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != formatVersion {
		return 0, nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptIndex, version)
	}
	dimension := int(binary.LittleEndian.Uint32(data[8:12]))
	count := int(binary.LittleEndian.Uint32(data[12:16]))
	if dimension <= 0 || len(data)-headerSize != count*dimension*4 {
		return 0, nil, fmt.Errorf("%w: expected %d vectors of %d dimensions in %d bytes",
			ErrCorruptIndex, count, dimension, len(data)-headerSize)
	}

	vectors := make([][]float32, count)
	off := headerSize
	for i := range vectors {
		vec := make([]float32, dimension)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vectors[i] = vec
	}
	return dimension, vectors, nil
}

// writeIndexFiles writes both files to temporaries, syncs them, then renames
// them into place. A crash between the renames leaves a checksum mismatch,
// which the loader treats as corruption.
func writeIndexFiles(dir string, dimension int, model string, state *indexState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	vectorBytes := encodeVectors(dimension, state.vectors)
	meta := metadataFile{
		Version:       formatVersion,
		Model:         model,
		Dimension:     dimension,
		Count:         state.len(),
		IndexChecksum: crc32.ChecksumIEEE(vectorBytes),
		Documents:     state.documents,
		Metadata:      state.metadata,
	}
	if meta.Documents == nil {
		meta.Documents = []string{}
	}
	if meta.Metadata == nil {
		meta.Metadata = []Metadata{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	indexPath := filepath.Join(dir, IndexFileName)
	metaPath := filepath.Join(dir, MetadataFileName)

	indexTmp, err := writeTemp(dir, IndexFileName, vectorBytes)
	if err != nil {
		return err
	}
	metaTmp, err := writeTemp(dir, MetadataFileName, metaBytes)
	if err != nil {
		os.Remove(indexTmp)
		return err
	}

	if err := os.Rename(indexTmp, indexPath); err != nil {
		os.Remove(indexTmp)
		os.Remove(metaTmp)
		return fmt.Errorf("rename index file: %w", err)
	}
	if err := os.Rename(metaTmp, metaPath); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("rename metadata file: %w", err)
	}
	return nil
}

func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return tmp, nil
}

// readIndexFiles returns errNoIndexFiles when neither file exists and an
// ErrCorruptIndex-wrapped error when they exist but do not agree.
func readIndexFiles(dir string) (*loadedIndex, error) {
	vectorBytes, vecErr := os.ReadFile(filepath.Join(dir, IndexFileName))
	metaBytes, metaErr := os.ReadFile(filepath.Join(dir, MetadataFileName))

	switch {
	case errors.Is(vecErr, os.ErrNotExist) && errors.Is(metaErr, os.ErrNotExist):
		return nil, errNoIndexFiles
	case vecErr != nil:
		return nil, fmt.Errorf("%w: read index file: %v", ErrCorruptIndex, vecErr)
	case metaErr != nil:
		return nil, fmt.Errorf("%w: read metadata file: %v", ErrCorruptIndex, metaErr)
	}

	var meta metadataFile
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrCorruptIndex, err)
	}
	if meta.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported metadata version %d", ErrCorruptIndex, meta.Version)
	}
	if sum := crc32.ChecksumIEEE(vectorBytes); sum != meta.IndexChecksum {
		return nil, fmt.Errorf("%w: index checksum %08x does not match metadata %08x",
			ErrCorruptIndex, sum, meta.IndexChecksum)
	}

	dimension, vectors, err := decodeVectors(vectorBytes)
	if err != nil {
		return nil, err
	}
	if dimension != meta.Dimension || len(vectors) != meta.Count ||
		len(meta.Documents) != meta.Count || len(meta.Metadata) != meta.Count {
		return nil, fmt.Errorf("%w: vectors=%d documents=%d metadata=%d count=%d",
			ErrCorruptIndex, len(vectors), len(meta.Documents), len(meta.Metadata), meta.Count)
	}

	return &loadedIndex{
		dimension: dimension,
		model:     meta.Model,
		state: &indexState{
			vectors:   vectors,
			documents: meta.Documents,
			metadata:  meta.Metadata,
		},
	}, nil
}
