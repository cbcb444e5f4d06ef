package backup

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType names an archive compression codec
type CompressionType string

const (
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeZstd CompressionType = "zstd"
	CompressionTypeLZ4  CompressionType = "lz4"
)

// Compressor wraps archive streams in one codec
type Compressor interface {
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	GetAlgorithm() CompressionType
	// Extension is the archive file suffix, including the tar part.
	Extension() string
	GetDefaultLevel() int
	GetMaxLevel() int
	GetMinLevel() int
}

// CompressionManager manages compression codecs
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a manager with every supported codec registered
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	cm.compressors[CompressionTypeGzip] = &GzipCompressor{}
	cm.compressors[CompressionTypeLZ4] = &LZ4Compressor{}
	cm.compressors[CompressionTypeZstd] = &ZstdCompressor{}

	return cm
}

// GetCompressor returns a compressor for the specified algorithm
func (cm *CompressionManager) GetCompressor(algorithm CompressionType) (Compressor, error) {
	compressor, exists := cm.compressors[CompressionType(strings.ToLower(string(algorithm)))]
	if !exists {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
	return compressor, nil
}

// GetSupportedAlgorithms returns the supported algorithms in name order
func (cm *CompressionManager) GetSupportedAlgorithms() []CompressionType {
	algorithms := make([]CompressionType, 0, len(cm.compressors))
	for algorithm := range cm.compressors {
		algorithms = append(algorithms, algorithm)
	}
	sort.Slice(algorithms, func(i, j int) bool { return algorithms[i] < algorithms[j] })
	return algorithms
}

// NewWriter wraps w with the codec, clamping out-of-range levels to the default
func (cm *CompressionManager) NewWriter(w io.Writer, algorithm CompressionType, level int) (io.WriteCloser, error) {
	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return nil, err
	}

	if level < compressor.GetMinLevel() || level > compressor.GetMaxLevel() {
		level = compressor.GetDefaultLevel()
	}

	return compressor.NewWriter(w, level)
}

// Detect returns the compressor matching an archive file name
func (cm *CompressionManager) Detect(path string) (Compressor, error) {
	name := strings.ToLower(path)
	for _, algorithm := range cm.GetSupportedAlgorithms() {
		compressor := cm.compressors[algorithm]
		if strings.HasSuffix(name, compressor.Extension()) {
			return compressor, nil
		}
	}
	if strings.HasSuffix(name, ".tgz") {
		return cm.compressors[CompressionTypeGzip], nil
	}
	return nil, fmt.Errorf("unrecognized archive extension: %s", path)
}

// IsArchive reports whether path names a full-system archive
func (cm *CompressionManager) IsArchive(path string) bool {
	_, err := cm.Detect(path)
	return err == nil
}

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return writer, nil
}

func (gc *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return reader, nil
}

func (gc *GzipCompressor) GetAlgorithm() CompressionType {
	return CompressionTypeGzip
}

func (gc *GzipCompressor) Extension() string {
	return ".tar.gz"
}

func (gc *GzipCompressor) GetDefaultLevel() int {
	return gzip.DefaultCompression
}

func (gc *GzipCompressor) GetMaxLevel() int {
	return gzip.BestCompression
}

func (gc *GzipCompressor) GetMinLevel() int {
	return gzip.BestSpeed
}

// LZ4Compressor implements LZ4 frame compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer := lz4.NewWriter(w)
	if level > 6 {
		// High compression mode
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, fmt.Errorf("failed to set LZ4 high compression: %w", err)
		}
	}
	return writer, nil
}

func (lc *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (lc *LZ4Compressor) GetAlgorithm() CompressionType {
	return CompressionTypeLZ4
}

func (lc *LZ4Compressor) Extension() string {
	return ".tar.lz4"
}

func (lc *LZ4Compressor) GetDefaultLevel() int {
	return 1 // Fast compression
}

func (lc *LZ4Compressor) GetMaxLevel() int {
	return 12
}

func (lc *LZ4Compressor) GetMinLevel() int {
	return 1
}

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	var encoderLevel zstd.EncoderLevel
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return encoder, nil
}

func (zc *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return decoder.IOReadCloser(), nil
}

func (zc *ZstdCompressor) GetAlgorithm() CompressionType {
	return CompressionTypeZstd
}

func (zc *ZstdCompressor) Extension() string {
	return ".tar.zst"
}

func (zc *ZstdCompressor) GetDefaultLevel() int {
	return 3 // Balanced compression
}

func (zc *ZstdCompressor) GetMaxLevel() int {
	return 22
}

func (zc *ZstdCompressor) GetMinLevel() int {
	return 1
}
